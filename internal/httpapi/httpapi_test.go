package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/internal/anomaly"
	"github.com/drblury/taskflow/internal/audit"
	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/jsoncodec"
	"github.com/drblury/taskflow/internal/stats"
	"github.com/drblury/taskflow/internal/taskstore"
)

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type fakePublisher struct {
	eventType string
	payload   map[string]any
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, payload map[string]any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.eventType, p.payload = eventType, payload
	if id, ok := payload["trace_id"].(string); ok {
		return id, nil
	}
	return "trace-new", nil
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(errspkg.Validation("op", "f", "is required")))
	assert.Equal(t, http.StatusNotFound, StatusFor(errspkg.NotFound("op", "gone")))
	assert.Equal(t, http.StatusBadGateway, StatusFor(errspkg.Upstream("op", errors.New("down"))))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errspkg.Persistence("op", errors.New("locked"))))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "taskflow_test_total", Help: "test"}))

	healthy := true
	r := NewRouter(RouterConfig{
		Service:  "storage",
		Gatherer: reg,
		Health: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("db down")
		},
	})

	rec := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	healthy = false
	rec = do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskflow_test_total")
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	rec := do(t, NewRouter(RouterConfig{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	r := NewRouter(RouterConfig{CORSAllowedOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestReceiverCreate(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(RouterConfig{})
	MountReceiver(r, pub, nil)

	rec := do(t, r, http.MethodPost, "/tasks",
		`{"task_name":"A","due_date":"2025-01-01","task_description":"x","uuid":"u1","task_difficulty":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "trace-new", decode[PublishResponse](t, rec).TraceID)
	assert.Equal(t, envelope.TypeCreate, pub.eventType)
	assert.Equal(t, 5, pub.payload["task_difficulty"])
	assert.Equal(t, "u1", pub.payload["uuid"])
}

func TestReceiverKeepsCallerTraceID(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(RouterConfig{})
	MountReceiver(r, pub, nil)

	rec := do(t, r, http.MethodPost, "/tasks/complete", `{"task_name":"A","uuid":"u1","trace_id":"abc"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "abc", decode[PublishResponse](t, rec).TraceID)
	assert.Equal(t, envelope.TypeComplete, pub.eventType)
	assert.NotContains(t, pub.payload, "completed_by")
}

func TestReceiverRejectsInvalidBodies(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(RouterConfig{})
	MountReceiver(r, pub, nil)

	for _, tc := range []struct{ path, body string }{
		{"/tasks", `{"task_name":"A"}`},
		{"/tasks", `not json`},
		{"/tasks/complete", `{"task_name":"   ","uuid":"u1"}`},
	} {
		rec := do(t, r, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.body)
		assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
	}
	assert.Empty(t, pub.eventType)
}

func TestReceiverUpstreamFailure(t *testing.T) {
	pub := &fakePublisher{err: errspkg.Upstream("producer.publish", errors.New("broker down"))}
	r := NewRouter(RouterConfig{})
	MountReceiver(r, pub, nil)

	rec := do(t, r, http.MethodPost, "/tasks/complete", `{"task_name":"A","uuid":"u1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "broker down")
}

func TestStorageQueries(t *testing.T) {
	store, err := taskstore.Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	d := 5
	_, err = store.Create(ctx, taskstore.NewTask{TaskName: "A", DueDate: "2025-01-01", TaskDescription: "x", UUID: "u1", TaskDifficulty: &d})
	require.NoError(t, err)
	_, err = store.Complete(ctx, taskstore.Completion{TaskName: "ghost", UUID: "u2"})
	require.NoError(t, err)

	r := NewRouter(RouterConfig{})
	MountStorage(r, store, nil)

	rec := do(t, r, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]taskstore.Task](t, rec)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].TaskDifficulty)
	assert.Equal(t, 5, *tasks[0].TaskDifficulty)

	rec = do(t, r, http.MethodGet, "/tasks/completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[[]taskstore.CompletedTask](t, rec)
	require.Len(t, done, 1)
	assert.Nil(t, done[0].TaskDifficulty)

	future := time.Now().Add(time.Hour).UTC().Format("2006-01-02T15:04:05Z")
	rec = do(t, r, http.MethodGet, "/tasks?start_timestamp="+future, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = do(t, r, http.MethodGet, "/tasks/completed?end_timestamp=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeStats struct {
	snap stats.Snapshot
	err  error
}

func (f fakeStats) Current(context.Context) (stats.Snapshot, error) { return f.snap, f.err }

func TestProcessingStats(t *testing.T) {
	r := NewRouter(RouterConfig{})
	MountProcessing(r, fakeStats{err: errspkg.NotFound("stats.current", "not computed")}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/stats", "").Code)

	r = NewRouter(RouterConfig{})
	MountProcessing(r, fakeStats{snap: stats.Snapshot{NumTasks: 3, AvgTaskDifficulty: 2.5}}, nil)
	rec := do(t, r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[stats.Snapshot](t, rec)
	assert.Equal(t, int64(3), got.NumTasks)
	assert.Equal(t, 2.5, got.AvgTaskDifficulty)
}

func TestAnomaliesFilter(t *testing.T) {
	log := anomaly.NewLog(t.TempDir()+"/anomalies.json", nil)
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, anomaly.Anomaly{EventID: "1", AnomalyType: anomaly.TooHigh}))
	require.NoError(t, log.Append(ctx, anomaly.Anomaly{EventID: "2", AnomalyType: anomaly.TooLow}))

	r := NewRouter(RouterConfig{})
	MountAnomalies(r, log, nil)

	rec := do(t, r, http.MethodGet, "/anomalies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]anomaly.Anomaly](t, rec), 2)

	rec = do(t, r, http.MethodGet, "/anomalies?type=too%20low", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]anomaly.Anomaly](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].EventID)
}

func TestAnalyzerEvents(t *testing.T) {
	a := audit.New()
	env, err := envelope.New(envelope.TypeCreate, map[string]any{"task_name": "A"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, a.Record(context.Background(), env))

	r := NewRouter(RouterConfig{})
	MountAnalyzer(r, a, nil)

	rec := do(t, r, http.MethodGet, "/events/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"create_count": 1, "complete_count": 0}, decode[map[string]int](t, rec))

	rec = do(t, r, http.MethodGet, "/events/create?index=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, env.TraceID, decode[audit.Event](t, rec).TraceID)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/events/create?index=1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/events/create?index=first", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/events/complete", "").Code)
}
