package api

import (
	"bytes"
	"cachegate/internal/invalidation"
	"cachegate/internal/models"
	"cachegate/internal/storage"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPurger struct {
	mu    sync.Mutex
	calls [][]string
}

func (p *recordingPurger) Purge(_ context.Context, tags []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), tags...))
	return nil
}

func (p *recordingPurger) Calls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.calls...)
}

func newCacheTestHandlers(t *testing.T) (*Handlers, *storage.MemoryStorage, *recordingPurger, *invalidation.Invalidator) {
	t.Helper()
	store := newMemoryStorage(t)
	purger := &recordingPurger{}
	inv := invalidation.New(purger, store, invalidation.Config{Timeout: time.Second})
	t.Cleanup(func() { inv.Close(context.Background()) })
	return NewHandlers(WithStorage(store), WithInvalidator(inv)), store, purger, inv
}

func TestInvalidateCache_Accepted(t *testing.T) {
	h, store, purger, inv := newCacheTestHandlers(t)

	body := []byte(`{"tags":["products"," products ","category:lamps"],"reason":"price update"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.InvalidateCache(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decodeBody[models.InvalidateResponse](t, rr)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, []string{"products", "category:lamps"}, resp.Tags)

	require.NoError(t, inv.Close(context.Background()))
	assert.Equal(t, [][]string{{"products", "category:lamps"}}, purger.Calls())

	records, err := store.ListInvalidations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, resp.RequestID, records[0].RequestID)
	assert.Equal(t, "price update", records[0].Reason)
	assert.True(t, records[0].Success)
}

func TestInvalidateCache_SingleTagShorthand(t *testing.T) {
	h, _, _, _ := newCacheTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", bytes.NewReader([]byte(`{"tag":"homepage"}`)))
	rr := httptest.NewRecorder()
	h.InvalidateCache(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decodeBody[models.InvalidateResponse](t, rr)
	assert.Equal(t, []string{"homepage"}, resp.Tags)
}

func TestInvalidateCache_BadRequests(t *testing.T) {
	h, _, purger, inv := newCacheTestHandlers(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"tags":`, models.ErrorCodeBadRequest},
		{"no tags", `{"reason":"nothing"}`, models.ErrorCodeInvalidRequest},
		{"blank tags", `{"tags":["", "  "]}`, models.ErrorCodeInvalidRequest},
		{"tag with comma", `{"tags":["a,b"]}`, models.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", bytes.NewReader([]byte(tt.body)))
			rr := httptest.NewRecorder()
			h.InvalidateCache(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			resp := decodeBody[models.ErrorResponse](t, rr)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	require.NoError(t, inv.Close(context.Background()))
	assert.Empty(t, purger.Calls())
}

func TestInvalidateCache_AfterCloseIsUnavailable(t *testing.T) {
	h, _, _, inv := newCacheTestHandlers(t)
	require.NoError(t, inv.Close(context.Background()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", bytes.NewReader([]byte(`{"tags":["x"]}`)))
	rr := httptest.NewRecorder()
	h.InvalidateCache(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestInvalidateCache_NotConfigured(t *testing.T) {
	h := NewHandlers()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", bytes.NewReader([]byte(`{"tags":["x"]}`)))
	rr := httptest.NewRecorder()
	h.InvalidateCache(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestListInvalidations(t *testing.T) {
	h, store, _, _ := newCacheTestHandlers(t)
	ctx := context.Background()

	for _, tag := range []string{"a", "b", "c"} {
		rec := models.NewInvalidationRecord(models.NewRequestID(), []string{tag}, "", nil, time.Millisecond)
		require.NoError(t, store.RecordInvalidation(ctx, rec))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/invalidations?limit=2", nil)
	rr := httptest.NewRecorder()
	h.ListInvalidations(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[models.ListInvalidationsResponse](t, rr)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Invalidations, 2)
	assert.Equal(t, []string{"c"}, resp.Invalidations[0].Tags)
	assert.Equal(t, []string{"b"}, resp.Invalidations[1].Tags)
}

func TestListInvalidations_InvalidLimit(t *testing.T) {
	h, _, _, _ := newCacheTestHandlers(t)

	for _, limit := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/invalidations?limit="+limit, nil)
		rr := httptest.NewRecorder()
		h.ListInvalidations(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", limit)
	}
}

func TestGetCacheStats(t *testing.T) {
	h, _, _, _ := newCacheTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil)
	rr := httptest.NewRecorder()
	h.GetCacheStats(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[models.CacheStatsResponse](t, rr)
	assert.Zero(t, resp.Annotated)
	assert.Zero(t, resp.Skipped)
	assert.Zero(t, resp.PurgesInFlight)
	assert.False(t, resp.Since.IsZero())
}
