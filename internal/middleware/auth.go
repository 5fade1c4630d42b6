package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"clearcut/internal/domain"
)

const apiKeyHeader = "X-API-Key"

const credentialKey contextKey = "credential"

// CredentialFromContext returns the authenticated credential, or nil for an
// anonymous request.
func CredentialFromContext(ctx context.Context) *domain.Credential {
	if c, ok := ctx.Value(credentialKey).(*domain.Credential); ok {
		return c
	}
	return nil
}

// Authenticate resolves the X-API-Key header into a credential on the request
// context. A missing header is allowed through as anonymous; an unknown or
// revoked key is rejected outright so callers notice dead keys immediately.
func Authenticate(ledger domain.CredentialLedger, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cred, err := ledger.Get(r.Context(), key)
			if errors.Is(err, domain.ErrNotFound) {
				authError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			if err != nil {
				log.Error().Err(err).Msg("credential lookup failed")
				authError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !cred.IsActive {
				authError(w, http.StatusUnauthorized, "API key has been revoked")
				return
			}

			ctx := context.WithValue(r.Context(), credentialKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Admit charges one unit of daily quota for authenticated callers. It wraps
// submission endpoints only; reads and downloads are never metered. Anonymous
// requests pass through and are throttled by the IP rate limiter instead.
func Admit(ledger domain.CredentialLedger, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := CredentialFromContext(r.Context())
			if cred == nil {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := ledger.CheckAndIncrement(r.Context(), cred.Key)
			if err != nil {
				log.Error().Err(err).Msg("quota check failed")
				authError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !ok {
				authError(w, http.StatusTooManyRequests, "daily request limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
