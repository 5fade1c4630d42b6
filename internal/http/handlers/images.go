package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"clearcut/internal/domain"
	"clearcut/internal/middleware"
	"clearcut/internal/service"
)

// allowedExtensions is the upload allowlist. Anything else is rejected before
// a job is created.
var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

const multipartMemoryLimit = 32 << 20

// tierLimits resolves the effective limits for the request: authenticated
// callers get their tier's limits, anonymous callers get the free tier's.
func tierLimits(r *http.Request) domain.TierLimits {
	if cred := middleware.CredentialFromContext(r.Context()); cred != nil {
		return domain.LimitsForTier(cred.Tier)
	}
	return domain.LimitsForTier(domain.TierFree)
}

// validateUpload rejects disallowed types and oversized files, writing the
// error response itself. Returns false when the upload was rejected.
func (a *App) validateUpload(w http.ResponseWriter, fh *multipart.FileHeader, limits domain.TierLimits) bool {
	ext := strings.ToLower(path.Ext(fh.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		a.error(w, http.StatusBadRequest, "unsupported_type",
			fmt.Sprintf("unsupported file type %q; allowed: jpg, jpeg, png, webp", ext))
		return false
	}
	if fh.Size > limits.MaxFileSize {
		a.error(w, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file %q exceeds the %d byte limit for your tier", fh.Filename, limits.MaxFileSize))
		return false
	}
	return true
}

func readUpload(fh *multipart.FileHeader) (service.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return service.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return service.Upload{}, err
	}
	return service.Upload{Filename: fh.Filename, Data: data}, nil
}

// RemoveBackground accepts a single image under the "file" form field and
// queues it for processing.
func (a *App) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	_, fh, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file field required")
		return
	}

	if !a.validateUpload(w, fh, tierLimits(r)) {
		return
	}
	upload, err := readUpload(fh)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}

	view, err := a.Orchestrator.SubmitSingle(r.Context(), upload)
	if err != nil {
		a.Log.Error().Err(err).Msg("single submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, view)
}

// RemoveWatermark accepts a single image under the "file" form field and
// queues it for watermark removal.
func (a *App) RemoveWatermark(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	_, fh, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file field required")
		return
	}

	if !a.validateUpload(w, fh, tierLimits(r)) {
		return
	}
	upload, err := readUpload(fh)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}

	view, err := a.Orchestrator.SubmitWatermarkRemoval(r.Context(), upload)
	if err != nil {
		a.Log.Error().Err(err).Msg("watermark submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, view)
}

// RemoveBackgroundBatch accepts up to MaxBatchSize images under the "files"
// form field. Anonymous batches are allowed; an authenticated caller must be
// on a batch-enabled tier.
func (a *App) RemoveBackgroundBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "files field required")
		return
	}
	if len(headers) > a.Config.MaxBatchSize {
		a.error(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("batch exceeds the %d file limit", a.Config.MaxBatchSize))
		return
	}

	limits := tierLimits(r)
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		if !a.validateUpload(w, fh, limits) {
			return
		}
		upload, err := readUpload(fh)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "could not read upload")
			return
		}
		uploads = append(uploads, upload)
	}

	cred := middleware.CredentialFromContext(r.Context())
	view, err := a.Orchestrator.SubmitBatch(r.Context(), cred, uploads)
	switch {
	case errors.Is(err, domain.ErrBatchNotAllowed):
		a.error(w, http.StatusForbidden, "batch_not_allowed", "batch processing is not available on your tier")
		return
	case errors.Is(err, domain.ErrEmptyBatch):
		a.error(w, http.StatusBadRequest, "bad_request", "batch must contain at least one file")
		return
	case err != nil:
		a.Log.Error().Err(err).Msg("batch submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, view)
}
