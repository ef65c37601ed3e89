package ratelimit

import (
	"cachegate/internal/models"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Policy controls how the middleware reacts to limiter failures.
type Policy struct {
	// FailOpen lets requests through when the backend is unavailable.
	// When false they are rejected with 503.
	FailOpen bool

	// ExemptPaths are never counted.
	ExemptPaths []string

	Now func() time.Time
}

// PolicyFrom extracts the middleware policy from the service configuration.
func PolicyFrom(cfg models.RateLimitConfig) Policy {
	return Policy{
		FailOpen:    cfg.FailOpen,
		ExemptPaths: cfg.ExemptPaths,
	}
}

// Middleware returns HTTP middleware that enforces limiter per client token.
// Authenticated requests are counted per API key name, anonymous ones per
// client IP. Rate limit headers are set on every counted response.
func Middleware(limiter Limiter, policy Policy) func(http.Handler) http.Handler {
	now := policy.Now
	if now == nil {
		now = time.Now
	}
	exempt := make(map[string]struct{}, len(policy.ExemptPaths))
	for _, p := range policy.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token := ClientToken(r)

			res, err := limiter.Check(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrBackendUnavailable) && policy.FailOpen {
					slog.Warn("Rate limit backend unavailable, allowing request",
						"store", limiter.Store(),
						"error", err,
					)
					next.ServeHTTP(w, r)
					return
				}

				slog.Error("Rate limit check failed",
					"store", limiter.Store(),
					"error", err,
				)
				writeError(w, http.StatusServiceUnavailable,
					models.NewErrorResponse("Rate limiting temporarily unavailable", models.ErrorCodeServiceUnavailable))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))

			if !res.Allowed {
				retryAfter := res.RetryAfter(now())
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeError(w, http.StatusTooManyRequests,
					models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimitExceeded))

				slog.Warn("Rate limit exceeded",
					"token", token,
					"limit", res.Limit,
					"retry_after", retryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, body *models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}

// ClientToken identifies the client a request is counted against.
func ClientToken(r *http.Request) string {
	if apiKey := models.APIKeyFromContext(r.Context()); apiKey != nil {
		return "auth:" + apiKey.Name
	}
	return ClientIP(r)
}

// ClientIP extracts the client IP from the request, checking proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
