package api

import (
	"cachegate/internal/cache"
	"cachegate/internal/hints"
	"cachegate/internal/models"
	"cachegate/internal/upstream"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

type hintsResponse struct {
	Hints       []hints.Hint `json:"hints"`
	Count       int          `json:"count"`
	Initialized bool         `json:"initialized"`
}

// GetContent proxies a JSON document from the origin and annotates it with
// the cache directives of the longest matching cache rule.
// GET /api/v1/content/{path}
func (h *Handlers) GetContent(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Upstream is not configured")
		return
	}

	path := "/" + mux.Vars(r)["path"]
	if hasDotSegment(path) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid content path")
		return
	}
	opts := h.rules.Options(path)

	env, err := h.annotator.Wrap(r.Context(), r, h.upstream.Producer(path, r.URL.RawQuery), opts)
	if err != nil {
		h.writeUpstreamError(w, r, path, err)
		return
	}

	if err := env.Write(w); err != nil {
		slog.Error("Failed to write content response", "path", path, "error", err)
		return
	}

	slog.Debug("Content served",
		"cache_key", cache.Key(r),
		"cache_control", env.Header.Get(cache.HeaderCacheControl),
		"cache_tag", env.Header.Get(cache.HeaderCacheTag),
	)
}

// hasDotSegment reports whether path contains a "." or ".." segment, which
// would let a request escape the upstream base path.
func hasDotSegment(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func (h *Handlers) writeUpstreamError(w http.ResponseWriter, r *http.Request, path string, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, cache.ErrInvalidOptions):
		slog.Error("Invalid cache rule", "path", path, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Invalid cache configuration")
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Content not found")
	case r.Context().Err() != nil:
		slog.Debug("Client went away during upstream fetch", "path", path)
	default:
		slog.Warn("Upstream fetch failed", "path", path, "error", err)
		h.writeErrorResponse(w, http.StatusBadGateway, models.ErrorCodeUpstreamError, "Upstream request failed")
	}
}

// GetHints returns the page resource hints as JSON, plus the same set as a
// Link header so a CDN can turn them into early hints.
// GET /api/v1/hints
func (h *Handlers) GetHints(w http.ResponseWriter, r *http.Request) {
	list := h.injector.Hints()
	if link := h.injector.LinkHeader(); link != "" {
		w.Header().Set("Link", link)
	}
	h.writeJSONResponse(w, http.StatusOK, hintsResponse{
		Hints:       list,
		Count:       len(list),
		Initialized: h.injector.Initialized(),
	})
}

// GetHintsHTML returns the hints as <link> elements for inclusion in a document head.
// GET /api/v1/hints.html
func (h *Handlers) GetHintsHTML(w http.ResponseWriter, r *http.Request) {
	markup, err := h.injector.HTML()
	if err != nil {
		slog.Error("Failed to render hints", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to render hints")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markup))
}
