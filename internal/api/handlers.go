package api

import (
	"cachegate/internal/cache"
	"cachegate/internal/hints"
	"cachegate/internal/invalidation"
	"cachegate/internal/models"
	"cachegate/internal/ratelimit"
	"cachegate/internal/storage"
	"cachegate/internal/upstream"
	"cachegate/internal/version"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// Handlers contains HTTP handlers for the cachegate API
type Handlers struct {
	storage     storage.Storage
	limiter     ratelimit.Limiter
	annotator   *cache.Annotator
	rules       *cache.Rules
	invalidator *invalidation.Invalidator
	injector    *hints.Injector
	upstream    *upstream.Client
	version     version.Info
}

// HandlerOption configures optional dependencies of Handlers.
type HandlerOption func(*Handlers)

func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

// WithLimiter reports the limiter's store in health checks.
func WithLimiter(l ratelimit.Limiter) HandlerOption {
	return func(h *Handlers) {
		h.limiter = l
	}
}

func WithAnnotator(a *cache.Annotator) HandlerOption {
	return func(h *Handlers) {
		h.annotator = a
	}
}

// WithCacheRules sets the per-path cache rules used by the content proxy.
func WithCacheRules(rules *cache.Rules) HandlerOption {
	return func(h *Handlers) {
		h.rules = rules
	}
}

func WithInvalidator(inv *invalidation.Invalidator) HandlerOption {
	return func(h *Handlers) {
		h.invalidator = inv
	}
}

func WithInjector(in *hints.Injector) HandlerOption {
	return func(h *Handlers) {
		h.injector = in
	}
}

// WithUpstream sets the origin client. Without it the content routes answer 503.
func WithUpstream(c *upstream.Client) HandlerOption {
	return func(h *Handlers) {
		h.upstream = c
	}
}

func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(opts ...HandlerOption) *Handlers {
	h := &Handlers{
		annotator: cache.NewAnnotator(cache.AnnotatorConfig{}),
		rules:     cache.NewRules(nil),
		injector:  hints.NewInjector(),
		version:   version.GetInfo(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
// Provides basic health info publicly, enhanced details with authentication
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version

	if h.storage != nil {
		if err := h.storage.Ping(r.Context()); err != nil {
			response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	if h.limiter != nil {
		response.AddMetric("rate_limit_store", h.limiter.Store())
		if err := h.limiter.Ping(r.Context()); err != nil {
			response.AddComponent("rate_limit", models.StatusDegraded, err.Error())
		} else {
			response.AddComponent("rate_limit", models.StatusHealthy, "Rate limit store is reachable")
		}
	}

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if apiKey := models.APIKeyFromContext(r.Context()); apiKey != nil && apiKey.HasPermission(models.PermissionRead) {
		response.AddMetric("authenticated", true)
		response.AddMetric("api_key_name", getAPIKeyName(apiKey))
		response.AddMetric("permissions", apiKey.Permissions)
		response.AddMetric("instance_id", h.version.InstanceID)
		if h.invalidator != nil {
			response.AddMetric("purges_in_flight", h.invalidator.InFlight())
		}
	} else {
		response.AddMetric("authenticated", false)
	}

	status := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to tell the client.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(apiKey *models.APIKey) string {
	if apiKey == nil {
		return "anonymous"
	}
	if apiKey.Name != "" {
		return apiKey.Name
	}
	return "unnamed-key"
}
