package api

import (
	"cachegate/internal/models"
	"cachegate/internal/storage"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

var (
	errMissingAuthorization = errors.New("authorization required")
	errInvalidAuthFormat    = errors.New("invalid authorization format")
	errInvalidAPIKey        = errors.New("invalid API key")
)

// authenticate resolves the bearer token of r to an enabled stored key.
func authenticate(store storage.Storage, r *http.Request) (*models.APIKey, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingAuthorization
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, errInvalidAuthFormat
	}

	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return nil, errInvalidAuthFormat
	}

	validKey, err := store.GetAPIKeyByHash(r.Context(), models.HashAPIKey(token))
	if err != nil || !validKey.Enabled {
		return nil, errInvalidAPIKey
	}
	return validKey, nil
}

// authMiddleware rejects requests without a valid API key. A key already
// placed in the context by OptionalAuth is reused.
func authMiddleware(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/api/v1/health" {
				next.ServeHTTP(w, r)
				return
			}
			if models.APIKeyFromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			validKey, err := authenticate(store, r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse(err.Error(), models.ErrorCodeUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(models.WithAPIKey(r.Context(), validKey)))
		})
	}
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := models.APIKeyFromContext(r.Context())
			if apiKey == nil || !apiKey.HasPermission(required) {
				writeJSON(w, http.StatusForbidden, models.NewErrorResponse(
					"Insufficient permissions for this operation",
					models.ErrorCodeForbidden,
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuth creates middleware that allows optional authentication.
// Authenticated requests are rate limited per key and see extra health details.
// On any error, the request continues without authentication.
func OptionalAuth(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			validKey, err := authenticate(store, r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(models.WithAPIKey(r.Context(), validKey)))
		})
	}
}
