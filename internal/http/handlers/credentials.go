package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"clearcut/internal/domain"
	"clearcut/internal/middleware"
)

type generateKeyRequest struct {
	Email string `json:"email"`
	Tier  string `json:"tier"`
}

type credentialResponse struct {
	APIKey     string `json:"api_key,omitempty"`
	Key        string `json:"key,omitempty"`
	OwnerEmail string `json:"owner_email"`
	Tier       string `json:"tier"`
	UsedToday  int    `json:"used_today"`
	DailyLimit int    `json:"daily_limit"`
	Remaining  int    `json:"remaining"`
	IsActive   bool   `json:"is_active"`
}

// newCredentialResponse renders a credential. The full key is included only
// at issue time; every other surface shows the redacted form.
func newCredentialResponse(cred *domain.Credential, revealKey bool) credentialResponse {
	resp := credentialResponse{
		OwnerEmail: cred.OwnerEmail,
		Tier:       string(cred.Tier),
		UsedToday:  cred.UsedCount,
		DailyLimit: cred.LimitCount,
		Remaining:  cred.Remaining(),
		IsActive:   cred.IsActive,
	}
	if revealKey {
		resp.APIKey = cred.Key
	} else {
		resp.Key = cred.RedactedKey()
	}
	return resp
}

// GenerateKey issues a new API key for an owner email. One active key per
// owner; a second request conflicts.
func (a *App) GenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		a.error(w, http.StatusBadRequest, "bad_request", "valid email required")
		return
	}
	tier := domain.Tier(req.Tier)
	if req.Tier == "" {
		tier = domain.TierFree
	}
	if !domain.ValidTier(tier) {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown tier")
		return
	}

	cred, err := a.Ledger.Issue(r.Context(), req.Email, tier)
	if errors.Is(err, domain.ErrConflict) {
		a.error(w, http.StatusConflict, "conflict", "an active key already exists for this email")
		return
	}
	if err != nil {
		a.Log.Error().Err(err).Msg("key issue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to issue key")
		return
	}
	a.json(w, http.StatusCreated, newCredentialResponse(cred, true))
}

// Usage reports the authenticated caller's quota consumption.
func (a *App) Usage(w http.ResponseWriter, r *http.Request) {
	cred := middleware.CredentialFromContext(r.Context())
	if cred == nil {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key required")
		return
	}
	a.json(w, http.StatusOK, newCredentialResponse(cred, false))
}

// RotateKey revokes the caller's key and issues a replacement with the same
// owner and tier.
func (a *App) RotateKey(w http.ResponseWriter, r *http.Request) {
	cred := middleware.CredentialFromContext(r.Context())
	if cred == nil {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key required")
		return
	}

	fresh, err := a.Ledger.Rotate(r.Context(), cred.Key)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key no longer valid")
		return
	}
	if err != nil {
		a.Log.Error().Err(err).Msg("key rotation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to rotate key")
		return
	}
	a.json(w, http.StatusOK, newCredentialResponse(fresh, true))
}

// RevokeKey deactivates the caller's key.
func (a *App) RevokeKey(w http.ResponseWriter, r *http.Request) {
	cred := middleware.CredentialFromContext(r.Context())
	if cred == nil {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key required")
		return
	}

	revoked, err := a.Ledger.Revoke(r.Context(), cred.Key)
	if err != nil {
		a.Log.Error().Err(err).Msg("key revocation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to revoke key")
		return
	}
	if !revoked {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key no longer valid")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type upgradeRequest struct {
	Tier string `json:"tier"`
}

// UpgradeKey moves the caller's key to a new tier. Usage already consumed
// today is kept; only the limit changes.
func (a *App) UpgradeKey(w http.ResponseWriter, r *http.Request) {
	cred := middleware.CredentialFromContext(r.Context())
	if cred == nil {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key required")
		return
	}
	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	tier := domain.Tier(req.Tier)
	if !domain.ValidTier(tier) {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown tier")
		return
	}

	ok, err := a.Ledger.Upgrade(r.Context(), cred.Key, tier)
	if err != nil {
		a.Log.Error().Err(err).Msg("key upgrade failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to upgrade key")
		return
	}
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "API key no longer valid")
		return
	}

	fresh, err := a.Ledger.Get(r.Context(), cred.Key)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load key")
		return
	}
	a.json(w, http.StatusOK, newCredentialResponse(fresh, false))
}
