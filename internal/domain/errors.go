package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("active credential already exists")
	ErrBatchNotAllowed = errors.New("batch upload not allowed for tier")
	ErrEmptyBatch      = errors.New("job requires at least one image")
)
