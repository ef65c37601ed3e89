package api

import (
	"cachegate/internal/hints"
	"cachegate/internal/models"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API.
//
// Middleware runs in this order: recovery, logging, optional authentication
// (when enabled), then every RouteOption in the order given. Options run after
// authentication so the rate limiter can count authenticated clients per key.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	if config.Security.EnableAuth && handlers.storage != nil {
		router.Use(OptionalAuth(handlers.storage))
	}
	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/content/{path:.+}", handlers.GetContent).Methods("GET")
	api.HandleFunc("/hints", handlers.GetHints).Methods("GET")
	api.Handle("/hints.html", hints.Middleware(handlers.injector)(http.HandlerFunc(handlers.GetHintsHTML))).Methods("GET")

	adminAPI := api.PathPrefix("").Subrouter()
	if config.Security.EnableAuth {
		adminAPI.Use(authMiddleware(handlers.storage))
		adminAPI.Use(RequirePermission(models.PermissionAdmin))
	} else {
		slog.Warn("Authentication disabled, admin endpoints are unprotected")
	}
	adminAPI.HandleFunc("/cache/invalidate", handlers.InvalidateCache).Methods("POST")
	adminAPI.HandleFunc("/cache/invalidations", handlers.ListInvalidations).Methods("GET")
	adminAPI.HandleFunc("/cache/stats", handlers.GetCacheStats).Methods("GET")
	if handlers.storage != nil {
		adminAPI.HandleFunc("/admin/keys", handlers.ListAPIKeys).Methods("GET")
		adminAPI.HandleFunc("/admin/keys", handlers.CreateAPIKey).Methods("POST")
		adminAPI.HandleFunc("/admin/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
		adminAPI.HandleFunc("/admin/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
	})

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration.Round(time.Microsecond),
			"remote_addr", r.RemoteAddr)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
