package api

import (
	"cachegate/internal/models"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

const (
	defaultInvalidationsLimit = 50
	maxInvalidationsLimit     = 500
)

// InvalidateCache accepts a tag purge and returns before the CDN is called.
// POST /api/v1/cache/invalidate
// Requires 'admin' permission when authentication is enabled
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.invalidator == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Invalidation is not configured")
		return
	}

	var req models.InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	requestID := h.invalidator.Invalidate(req.Tags, req.Reason)
	if requestID == "" {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Invalidation is shutting down")
		return
	}

	slog.Info("Cache invalidation accepted",
		"event", "security_audit",
		"action", "invalidate",
		"request_id", requestID,
		"tags", req.Tags,
		"reason", req.Reason,
		"actor", getAPIKeyName(models.APIKeyFromContext(r.Context())),
	)

	h.writeJSONResponse(w, http.StatusAccepted, models.InvalidateResponse{
		RequestID: requestID,
		Tags:      req.Tags,
		Message:   "Invalidation accepted",
	})
}

// ListInvalidations returns the most recent purge attempts, newest first.
// GET /api/v1/cache/invalidations?limit=N
func (h *Handlers) ListInvalidations(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Storage is not configured")
		return
	}

	limit := defaultInvalidationsLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n <= 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInvalidationsLimit)
	}

	records, err := h.storage.ListInvalidations(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list invalidations", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list invalidations")
		return
	}

	resp := models.ListInvalidationsResponse{
		Invalidations: make([]models.InvalidationRecord, len(records)),
		Count:         len(records),
	}
	for i, rec := range records {
		resp.Invalidations[i] = *rec
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetCacheStats reports annotation counters and purges still running.
// GET /api/v1/cache/stats
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	snap := h.annotator.Stats().Snapshot()
	resp := models.CacheStatsResponse{
		Annotated:      snap.Annotated,
		Skipped:        snap.Skipped,
		ProducerErrors: snap.ProducerErrors,
		Since:          snap.Since,
	}
	if h.invalidator != nil {
		resp.PurgesInFlight = h.invalidator.InFlight()
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}
