package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/metrics"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/keagan/clipcannon/internal/seen"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu    sync.Mutex
	ids   []string
	limit int
}

func (q *fakeQueue) Enqueue(videoID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.ids) >= q.limit {
		return pipeline.ErrQueueFull
	}
	q.ids = append(q.ids, videoID)
	return nil
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

type fakeLibrary []pipeline.SourceVideo

func (l fakeLibrary) List() ([]pipeline.SourceVideo, error) { return l, nil }

type fakeClaims struct {
	rec publish.Record
	err error
}

func (f fakeClaims) HandleClaimCheck(context.Context, string) (publish.Record, error) {
	return f.rec, f.err
}

type harness struct {
	queue    *fakeQueue
	store    *publish.MemoryStore
	seen     *seen.Memory
	creators *config.Registry
	handler  http.Handler
}

func newHarness(t *testing.T, claims ClaimChecks) *harness {
	t.Helper()
	h := &harness{
		queue:    &fakeQueue{},
		store:    publish.NewMemoryStore(),
		seen:     seen.NewMemory(),
		creators: config.NewRegistry([]config.Creator{{ID: "chan-a", Enabled: true}, {ID: "chan-b", Enabled: true}}, 8),
	}
	srv := New(zerolog.Nop(), Deps{
		Queue:    h.queue,
		Records:  h.store,
		Claims:   claims,
		Creators: h.creators,
		Library:  fakeLibrary{{ID: "v1", Creator: "chan-a"}, {ID: "v2", Creator: "chan-a"}, {ID: "v3", Creator: "chan-b"}},
		Seen:     h.seen,
		Metrics:  metrics.New(),
	})
	h.handler = srv.Routes()
	return h
}

func (h *harness) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthAndPing(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = h.do(http.MethodGet, "/admin/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestEnqueueVideo(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/videos/abc123")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"abc123"}, h.queue.ids)

	h.queue.limit = 1
	rec = h.do(http.MethodPost, "/videos/def456")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(http.MethodGet, "/videos/abc123")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRescanSkipsSeenVideos(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.seen.Admit(context.Background(), "v2")
	require.NoError(t, err)

	rec := h.do(http.MethodPost, "/admin/rescan")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body["queued"])
	assert.Equal(t, 1, body["skipped"])
	assert.Equal(t, []string{"v1", "v3"}, h.queue.ids)
}

func TestCreatorsAdmin(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/admin/creators")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []config.Creator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = h.do(http.MethodPost, "/admin/creators/chan-b/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	cr, ok := h.creators.Get("chan-b")
	require.True(t, ok)
	assert.False(t, cr.Enabled)

	rec = h.do(http.MethodPost, "/admin/creators/chan-b/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	cr, _ = h.creators.Get("chan-b")
	assert.True(t, cr.Enabled)

	rec = h.do(http.MethodPost, "/admin/creators/nobody/disable")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatorToggleIsPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	creators := config.NewRegistry([]config.Creator{{ID: "chan-a", Enabled: true}}, 8)
	srv := New(zerolog.Nop(), Deps{Creators: creators, AllowlistPath: path})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/creators/chan-a/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.FileExists(t, path)
}

func TestGetClip(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, _, err := h.store.Create(context.Background(), publish.Record{
		ClipID:    "clip-1",
		VideoID:   "v1",
		Platform:  "youtube",
		State:     publish.StateRendered,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/clips/clip-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got publish.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, publish.StateRendered, got.State)

	rec = h.do(http.MethodGet, "/clips/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaimCheckRedelivery(t *testing.T) {
	tests := []struct {
		name   string
		claims fakeClaims
		want   int
	}{
		{"public", fakeClaims{rec: publish.Record{ClipID: "c", State: publish.StatePublic}}, http.StatusOK},
		{"missing", fakeClaims{err: fmt.Errorf("%w: c", publish.ErrNotFound)}, http.StatusNotFound},
		{"platform down", fakeClaims{
			rec: publish.Record{ClipID: "c", State: publish.StateClaimPending},
			err: &publish.ClaimCheckError{ClipID: "c", RemoteID: "r", Err: errors.New("503")},
		}, http.StatusBadGateway},
		{"store broken", fakeClaims{err: errors.New("disk full")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.claims)
			rec := h.do(http.MethodPost, "/clips/c/claim-check")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodPost, "/videos/a")
	h.do(http.MethodGet, "/clips/missing")

	rec := h.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clipcannon_queue_depth 1")
	assert.Contains(t, rec.Body.String(), "clipcannon_http_errors_total 1")
}

func TestUnconfiguredDependencies(t *testing.T) {
	srv := New(zerolog.Nop(), Deps{})
	handler := srv.Routes()

	for _, path := range []string{"/videos/x", "/admin/rescan", "/clips/x/claim-check"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}
