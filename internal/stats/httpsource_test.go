package stats

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

func TestHTTPSourceQueriesWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Second)

	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Path)
		assert.Equal(t, "2025-03-01T09:00:00Z", r.URL.Query().Get("start_timestamp"))
		assert.Equal(t, "2025-03-01T09:00:05Z", r.URL.Query().Get("end_timestamp"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tasks":
			_, _ = w.Write([]byte(`[{"id":1,"task_name":"a","task_difficulty":4},{"id":2,"task_name":"b","task_difficulty":null}]`))
		case "/tasks/completed":
			_, _ = w.Write([]byte(`[{"id":1,"task_name":"c","task_difficulty":null}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b, err := NewHTTPSource(srv.URL+"/", nil).Fetch(context.Background(), Checkpoint{LastUpdated: start}, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tasks", "/tasks/completed"}, queries)
	assert.Equal(t, 2, b.Creates)
	assert.Equal(t, 1, b.Completes)
	assert.Equal(t, []int{4}, b.Difficulties)
}

func TestHTTPSourceRejectsPartialBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tasks" {
			_, _ = w.Write([]byte(`[{"id":1,"task_name":"a","task_difficulty":4}]`))
			return
		}
		http.Error(w, "storage down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, nil).Fetch(context.Background(), Checkpoint{}, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrUpstream)
	assert.Contains(t, err.Error(), "503")
}
