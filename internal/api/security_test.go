package api

import (
	"bytes"
	"cachegate/internal/invalidation"
	"cachegate/internal/models"
	"cachegate/internal/ratelimit"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSecuredRouter builds the full router with authentication enabled and
// three keys: read, write and admin.
func newSecuredRouter(t *testing.T, opts ...RouteOption) *mux.Router {
	t.Helper()
	store := newMemoryStorage(t)
	newTestAPIKey(t, store, "Read Only Key", "read-key-123", []string{"read"}, true)
	newTestAPIKey(t, store, "Write Key", "write-key-456", []string{"write"}, true)
	newTestAPIKey(t, store, "Admin Key", "admin-key-789", []string{"admin"}, true)

	inv := invalidation.New(invalidation.NopPurger{}, store, invalidation.Config{Timeout: time.Second})
	t.Cleanup(func() { inv.Close(context.Background()) })

	config := models.NewDefaultConfig()
	config.Security.EnableAuth = true

	handlers := NewHandlers(WithStorage(store), WithInvalidator(inv))
	return SetupRoutes(handlers, config, opts...)
}

func TestEndpointSecurity(t *testing.T) {
	router := newSecuredRouter(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		authHeader     string
		expectedStatus int
	}{
		{"public health", "GET", "/health", "", "", http.StatusOK},
		{"public api health", "GET", "/api/v1/health", "", "", http.StatusOK},
		{"public hints", "GET", "/api/v1/hints", "", "", http.StatusOK},
		{"stats without auth", "GET", "/api/v1/cache/stats", "", "", http.StatusUnauthorized},
		{"stats with read key", "GET", "/api/v1/cache/stats", "", "Bearer read-key-123", http.StatusForbidden},
		{"stats with write key", "GET", "/api/v1/cache/stats", "", "Bearer write-key-456", http.StatusForbidden},
		{"stats with admin key", "GET", "/api/v1/cache/stats", "", "Bearer admin-key-789", http.StatusOK},
		{"invalidate without auth", "POST", "/api/v1/cache/invalidate", `{"tags":["x"]}`, "", http.StatusUnauthorized},
		{"invalidate with invalid key", "POST", "/api/v1/cache/invalidate", `{"tags":["x"]}`, "Bearer nope", http.StatusUnauthorized},
		{"invalidate with write key", "POST", "/api/v1/cache/invalidate", `{"tags":["x"]}`, "Bearer write-key-456", http.StatusForbidden},
		{"invalidate with admin key", "POST", "/api/v1/cache/invalidate", `{"tags":["x"]}`, "Bearer admin-key-789", http.StatusAccepted},
		{"invalidations with admin key", "GET", "/api/v1/cache/invalidations", "", "Bearer admin-key-789", http.StatusOK},
		{"list keys without auth", "GET", "/api/v1/admin/keys", "", "", http.StatusUnauthorized},
		{"list keys with read key", "GET", "/api/v1/admin/keys", "", "Bearer read-key-123", http.StatusForbidden},
		{"list keys with admin key", "GET", "/api/v1/admin/keys", "", "Bearer admin-key-789", http.StatusOK},
		{"delete unknown key with admin key", "DELETE", "/api/v1/admin/keys/missing", "", "Bearer admin-key-789", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *bytes.Reader
			if tt.body != "" {
				body = bytes.NewReader([]byte(tt.body))
			} else {
				body = bytes.NewReader(nil)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code, "%s %s", tt.method, tt.path)
		})
	}
}

func TestAuthDisabledLeavesAdminOpen(t *testing.T) {
	store := newMemoryStorage(t)
	handlers := NewHandlers(WithStorage(store))
	router := SetupRoutes(handlers, models.NewDefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitCountsAuthenticatedClientsPerKey(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: 1, Interval: time.Minute, MaxTrackedTokens: 10})
	require.NoError(t, err)

	policy := ratelimit.Policy{ExemptPaths: []string{"/health", "/api/v1/health"}}
	router := newSecuredRouter(t, WithRateLimiter(ratelimit.Middleware(limiter, policy)))

	do := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/hints", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := do("")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	denied := do("")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.NotEmpty(t, denied.Header().Get("Retry-After"))

	// Same IP, but an authenticated key has its own window.
	assert.Equal(t, http.StatusOK, do("Bearer read-key-123").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("Bearer read-key-123").Code)
	assert.Equal(t, http.StatusOK, do("Bearer admin-key-789").Code)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, "health is exempt")
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	router := newSecuredRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/does-not-exist", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	resp := decodeBody[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeNotFound, resp.Code)
}

func TestMalformedAuthorizationNeverPanics(t *testing.T) {
	router := newSecuredRouter(t)

	headers := []string{
		"Bearer",
		"Bearer  ",
		"bearer admin-key-789",
		"Basic YWRtaW46YWRtaW4=",
		"Bearer admin-key-789'; DROP TABLE api_keys; --",
		"Bearer " + string(bytes.Repeat([]byte("a"), 4096)),
	}
	for _, h := range headers {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil)
		req.Header.Set("Authorization", h)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "header %q", h)
	}
}
