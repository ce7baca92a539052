package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ppiankov/threadstat/internal/pipeline"
	"github.com/ppiankov/threadstat/internal/store"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSyncer struct {
	mu      sync.Mutex
	calls   []pipeline.Options
	err     error
	status  pipeline.Status
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSyncer) Run(_ context.Context, opts pipeline.Options) (*pipeline.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	status := f.status
	if status == "" {
		status = pipeline.StatusCompleted
	}
	return &pipeline.Report{Status: status, RunID: "run-1", Since: opts.Since, Until: opts.Until, Fetched: 3}, f.err
}

type fakeRuns struct {
	runs  []store.Run
	err   error
	limit int
}

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]store.Run, error) {
	f.limit = limit
	return f.runs, f.err
}

func newTestEngine(syncer Syncer, runs RunLister, key string) *gin.Engine {
	logger, _ := logtest.NewNullLogger()
	return NewEngine(NewHandler(syncer, runs, "test", logger), key)
}

func do(engine http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	engine := newTestEngine(&fakeSyncer{}, nil, "secret")

	w := do(engine, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestSync_WindowFromBodyAndQuery(t *testing.T) {
	syncer := &fakeSyncer{}
	engine := newTestEngine(syncer, nil, "")

	w := do(engine, http.MethodPost, "/sync", `{"since":"2024-06-01","until":"2024-06-05"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report pipeline.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, pipeline.StatusCompleted, report.Status)
	assert.Equal(t, 3, report.Fetched)

	w = do(engine, http.MethodPost, "/sync?since=2024-06-02", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(engine, http.MethodPost, "/sync", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []pipeline.Options{
		{Since: "2024-06-01", Until: "2024-06-05"},
		{Since: "2024-06-02"},
		{},
	}, syncer.calls)
}

func TestSync_BadInput(t *testing.T) {
	syncer := &fakeSyncer{}
	engine := newTestEngine(syncer, nil, "")

	w := do(engine, http.MethodPost, "/sync", `{"since":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(engine, http.MethodPost, "/sync?until=not-a-date", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "until")

	assert.Empty(t, syncer.calls)
}

func TestSync_Errors(t *testing.T) {
	engine := newTestEngine(&fakeSyncer{err: pipeline.ErrAuthMissing, status: pipeline.StatusAuthMissing}, nil, "")
	w := do(engine, http.MethodPost, "/sync", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"auth_missing"`)

	engine = newTestEngine(&fakeSyncer{err: errors.New("write sinks: disk full"), status: pipeline.StatusFailed}, nil, "")
	w = do(engine, http.MethodPost, "/sync", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "disk full")
}

// TestSync_RejectsConcurrentRuns documents that a second trigger while a sync
// is in flight gets 409 instead of queueing.
func TestSync_RejectsConcurrentRuns(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	engine := newTestEngine(syncer, nil, "")

	done := make(chan int, 1)
	go func() {
		done <- do(engine, http.MethodPost, "/sync", "", nil).Code
	}()

	select {
	case <-syncer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never started")
	}

	w := do(engine, http.MethodPost, "/sync", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(syncer.block)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Len(t, syncer.calls, 1)
}

func TestAPIKey(t *testing.T) {
	engine := newTestEngine(&fakeSyncer{}, &fakeRuns{}, "secret")

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(engine, http.MethodGet, "/runs", "", tt.headers)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRuns(t *testing.T) {
	started := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	runs := &fakeRuns{runs: []store.Run{{ID: "r1", StartedAt: started, Status: store.RunSucceeded, Posts: 4}}}
	engine := newTestEngine(&fakeSyncer{}, runs, "")

	w := do(engine, http.MethodGet, "/runs?limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, runs.limit)

	var body struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "r1", body.Runs[0].ID)
	assert.Equal(t, 4, body.Runs[0].Posts)
	assert.True(t, body.Runs[0].StartedAt.Equal(started))
	assert.NotContains(t, w.Body.String(), "finished_at")

	w = do(engine, http.MethodGet, "/runs?limit=5000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxRunsLimit, runs.limit)

	w = do(engine, http.MethodGet, "/runs?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	runs.err = errors.New("db locked")
	w = do(engine, http.MethodGet, "/runs", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRuns_NoStore(t *testing.T) {
	engine := newTestEngine(&fakeSyncer{}, nil, "")
	w := do(engine, http.MethodGet, "/runs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[]}`, w.Body.String())
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger, _ := logtest.NewNullLogger()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ListenAndServe(ctx, "127.0.0.1:0", newTestEngine(&fakeSyncer{}, nil, ""), logger)
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
