package repo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clearcut/internal/domain"
)

const keyPrefix = "cc_"

// NewCredentialKey generates an opaque API key.
func NewCredentialKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// CredentialLedgerPG implements domain.CredentialLedger backed by PostgreSQL.
// The day boundary for quota resets comes from an injectable clock so tests
// can roll the calendar forward.
type CredentialLedgerPG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCredentialLedger creates a new credential ledger backed by PostgreSQL.
func NewCredentialLedger(pool *pgxpool.Pool) *CredentialLedgerPG {
	return &CredentialLedgerPG{pool: pool, now: time.Now}
}

// WithClock overrides the ledger clock.
func (r *CredentialLedgerPG) WithClock(now func() time.Time) *CredentialLedgerPG {
	r.now = now
	return r
}

func (r *CredentialLedgerPG) today() time.Time {
	y, m, d := r.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Issue creates a credential for the owner, rejecting duplicates among
// active credentials.
func (r *CredentialLedgerPG) Issue(ctx context.Context, owner string, tier domain.Tier) (*domain.Credential, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cred, err := issueInTx(ctx, tx, owner, tier, r.today())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cred, nil
}

func issueInTx(ctx context.Context, tx pgx.Tx, owner string, tier domain.Tier, today time.Time) (*domain.Credential, error) {
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credentials WHERE owner_email = $1 AND is_active)`, owner)
	if err := row.Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrConflict
	}

	limits := domain.LimitsForTier(tier)
	cred := &domain.Credential{
		Key:        NewCredentialKey(),
		OwnerEmail: owner,
		Tier:       tier,
		UsedCount:  0,
		LimitCount: limits.DailyLimit,
		LastReset:  today,
		IsActive:   true,
	}

	row = tx.QueryRow(ctx, `
INSERT INTO credentials (key, owner_email, tier, used_count, limit_count, last_reset, is_active)
VALUES ($1, $2, $3, 0, $4, $5, TRUE)
RETURNING created_at;
`, cred.Key, cred.OwnerEmail, cred.Tier, cred.LimitCount, cred.LastReset)
	if err := row.Scan(&cred.CreatedAt); err != nil {
		return nil, err
	}
	return cred, nil
}

// Get looks up a credential by key.
func (r *CredentialLedgerPG) Get(ctx context.Context, key string) (*domain.Credential, error) {
	row := r.pool.QueryRow(ctx, `
SELECT key, owner_email, tier, used_count, limit_count, last_reset, is_active, created_at
FROM credentials
WHERE key = $1;
`, key)
	return scanCredential(row)
}

// CheckAndIncrement performs the admission check as one transaction: day
// rollover resets used_count to 1 (the triggering request is always
// admitted); otherwise the counter increments unless the limit is reached.
func (r *CredentialLedgerPG) CheckAndIncrement(ctx context.Context, key string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
SELECT used_count, limit_count, last_reset, is_active
FROM credentials
WHERE key = $1
FOR UPDATE;
`, key)
	var used, limit int
	var lastReset time.Time
	var active bool
	if err := row.Scan(&used, &limit, &lastReset, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !active {
		return false, nil
	}

	today := r.today()
	if !sameDay(lastReset, today) {
		if _, err := tx.Exec(ctx, `UPDATE credentials SET used_count = 1, last_reset = $2 WHERE key = $1`, key, today); err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}
	if used >= limit {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE credentials SET used_count = used_count + 1 WHERE key = $1`, key); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Revoke deactivates a credential.
func (r *CredentialLedgerPG) Revoke(ctx context.Context, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE credentials SET is_active = FALSE WHERE key = $1 AND is_active`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Rotate revokes the credential and issues a fresh one with the same owner
// and tier, atomically.
func (r *CredentialLedgerPG) Rotate(ctx context.Context, key string) (*domain.Credential, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT owner_email, tier FROM credentials WHERE key = $1 AND is_active FOR UPDATE`, key)
	var owner string
	var tier domain.Tier
	if err := row.Scan(&owner, &tier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE credentials SET is_active = FALSE WHERE key = $1`, key); err != nil {
		return nil, err
	}

	cred, err := issueInTx(ctx, tx, owner, tier, r.today())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cred, nil
}

// Upgrade changes the tier and resets limit_count from the tier table.
// used_count is deliberately left alone.
func (r *CredentialLedgerPG) Upgrade(ctx context.Context, key string, tier domain.Tier) (bool, error) {
	if !domain.ValidTier(tier) {
		return false, nil
	}
	limits := domain.LimitsForTier(tier)
	tag, err := r.pool.Exec(ctx, `
UPDATE credentials
SET tier = $2, limit_count = $3
WHERE key = $1 AND is_active;
`, key, tier, limits.DailyLimit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var c domain.Credential
	if err := row.Scan(&c.Key, &c.OwnerEmail, &c.Tier, &c.UsedCount, &c.LimitCount, &c.LastReset, &c.IsActive, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
