package api

import (
	"cachegate/internal/cache"
	"cachegate/internal/hints"
	"cachegate/internal/models"
	"cachegate/internal/upstream"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOrigin serves JSON documents keyed by path. Unknown paths are 404;
// "/broken" answers 500.
func newOrigin(t *testing.T, docs map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		doc, ok := docs[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newContentRouter(t *testing.T, originURL string, rules []models.CacheRule) (*mux.Router, *Handlers) {
	t.Helper()
	client, err := upstream.NewClient(models.UpstreamConfig{BaseURL: originURL, Timeout: time.Second}, "cachegate-test")
	require.NoError(t, err)

	handlers := NewHandlers(
		WithUpstream(client),
		WithCacheRules(cache.NewRules(rules)),
		WithAnnotator(cache.NewAnnotator(cache.AnnotatorConfig{DefaultTTL: 60 * time.Second})),
	)
	return SetupRoutes(handlers, models.NewDefaultConfig()), handlers
}

func TestGetContent_AnnotatesWithMatchingRule(t *testing.T) {
	origin, _ := newOrigin(t, map[string]string{
		"/products/42": `{"id":42,"name":"Lamp"}`,
	})
	router, _ := newContentRouter(t, origin.URL, []models.CacheRule{
		{Prefix: "/products", TTL: 120 * time.Second, Tags: []string{"products"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/products/42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "s-maxage=120, stale-while-revalidate=60", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "products", rr.Header().Get("Cache-Tag"))
	assert.JSONEq(t, `{"id":42,"name":"Lamp"}`, rr.Body.String())
}

func TestGetContent_UnmatchedPathUsesDefaultTTL(t *testing.T) {
	origin, _ := newOrigin(t, map[string]string{
		"/pages/about": `{"title":"About"}`,
	})
	router, _ := newContentRouter(t, origin.URL, []models.CacheRule{
		{Prefix: "/products", TTL: 120 * time.Second, Tags: []string{"products"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/pages/about", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "s-maxage=60, stale-while-revalidate=30", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Cache-Tag"))
}

func TestGetContent_ForwardsQuery(t *testing.T) {
	origin, _ := newOrigin(t, map[string]string{
		"/search?q=lamp": `{"results":[1]}`,
	})
	router, _ := newContentRouter(t, origin.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/search?q=lamp", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"results":[1]}`, rr.Body.String())
}

func TestGetContent_SkipHeaderDisablesCaching(t *testing.T) {
	origin, _ := newOrigin(t, map[string]string{
		"/products/42": `{"id":42}`,
	})
	router, handlers := newContentRouter(t, origin.URL, []models.CacheRule{
		{Prefix: "/products", TTL: 120 * time.Second, Tags: []string{"products"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/products/42", nil)
	req.Header.Set("X-Skip-Cache", "true")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, cache.NoStore, rr.Header().Get("Cache-Control"))
	assert.Equal(t, uint64(1), handlers.annotator.Stats().Snapshot().Skipped)
}

func TestGetContent_SkipRule(t *testing.T) {
	origin, _ := newOrigin(t, map[string]string{
		"/cart": `{"items":[]}`,
	})
	router, _ := newContentRouter(t, origin.URL, []models.CacheRule{
		{Prefix: "/cart", Skip: true},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, cache.NoStore, rr.Header().Get("Cache-Control"))
}

func TestGetContent_UpstreamFailureReturns502WithoutCacheHeaders(t *testing.T) {
	origin, _ := newOrigin(t, nil)
	router, handlers := newContentRouter(t, origin.URL, []models.CacheRule{
		{Prefix: "/broken", TTL: time.Minute, Tags: []string{"broken"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/broken", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Empty(t, rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Cache-Tag"))

	resp := decodeBody[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeUpstreamError, resp.Code)
	assert.Equal(t, uint64(1), handlers.annotator.Stats().Snapshot().ProducerErrors)
}

func TestGetContent_UpstreamNotFound(t *testing.T) {
	origin, _ := newOrigin(t, nil)
	router, _ := newContentRouter(t, origin.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	resp := decodeBody[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeNotFound, resp.Code)
}

func TestGetContent_RejectsDotSegments(t *testing.T) {
	origin, calls := newOrigin(t, nil)
	_, handlers := newContentRouter(t, origin.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/x", nil)
	req = mux.SetURLVars(req, map[string]string{"path": "products/../../admin"})
	rr := httptest.NewRecorder()
	handlers.GetContent(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, calls.Load())
}

func TestGetContent_NoUpstream(t *testing.T) {
	handlers := NewHandlers()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/products", nil)
	req = mux.SetURLVars(req, map[string]string{"path": "products"})
	rr := httptest.NewRecorder()
	handlers.GetContent(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHasDotSegment(t *testing.T) {
	assert.False(t, hasDotSegment("/products/42"))
	assert.False(t, hasDotSegment("/files/v1.2/readme"))
	assert.True(t, hasDotSegment("/products/../admin"))
	assert.True(t, hasDotSegment("/./products"))
}

func newHintsInjector(t *testing.T) *hints.Injector {
	t.Helper()
	in := hints.NewInjector()
	ok, err := in.Initialize(hints.Resources{
		PreconnectOrigins: []string{"https://cdn.example.com"},
		CriticalImages:    []string{"/hero.webp"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	return in
}

func TestGetHints(t *testing.T) {
	handlers := NewHandlers(WithInjector(newHintsInjector(t)))
	router := SetupRoutes(handlers, models.NewDefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hints", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Link"), "<https://cdn.example.com>; rel=preconnect")

	resp := decodeBody[hintsResponse](t, rr)
	assert.True(t, resp.Initialized)
	assert.Equal(t, 3, resp.Count)
	require.Len(t, resp.Hints, 3)
	assert.Equal(t, hints.RelPreconnect, resp.Hints[0].Rel)
	assert.Equal(t, hints.RelDNSPrefetch, resp.Hints[1].Rel)
	assert.Equal(t, "/hero.webp", resp.Hints[2].Href)
}

func TestGetHintsHTML(t *testing.T) {
	handlers := NewHandlers(WithInjector(newHintsInjector(t)))
	router := SetupRoutes(handlers, models.NewDefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hints.html", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rr.Body.String(), `<link rel="preconnect" href="https://cdn.example.com"`)
	assert.Contains(t, rr.Body.String(), `href="/hero.webp" as="image"`)
	assert.NotEmpty(t, rr.Header().Get("Link"))
}

func TestGetHints_Empty(t *testing.T) {
	handlers := NewHandlers()
	router := SetupRoutes(handlers, models.NewDefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hints", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Link"))
	resp := decodeBody[hintsResponse](t, rr)
	assert.False(t, resp.Initialized)
	assert.Zero(t, resp.Count)
}
