package stats

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/jsoncodec"
	"github.com/drblury/taskflow/internal/taskstore"
)

// HTTPSource queries the storage service for records created in
// [LastUpdated, now). Both queries must succeed or the batch is rejected.
// A failure after one of them succeeded leaves the window unchanged, so
// nothing is counted twice.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource targets the storage service at baseURL. A nil client uses a
// client with a 10 second timeout.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context, cp Checkpoint, now time.Time) (Batch, error) {
	var (
		tasks     []taskstore.Task
		completed []taskstore.CompletedTask
	)
	if err := s.get(ctx, "/tasks", cp.LastUpdated, now, &tasks); err != nil {
		return Batch{}, err
	}
	if err := s.get(ctx, "/tasks/completed", cp.LastUpdated, now, &completed); err != nil {
		return Batch{}, err
	}

	b := Batch{Creates: len(tasks), Completes: len(completed)}
	for _, t := range tasks {
		if t.TaskDifficulty != nil {
			b.Difficulties = append(b.Difficulties, *t.TaskDifficulty)
		}
	}
	return b, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, start, end time.Time, out any) error {
	const op = "stats.fetch"

	q := url.Values{}
	q.Set("start_timestamp", start.UTC().Format(time.RFC3339Nano))
	q.Set("end_timestamp", end.UTC().Format(time.RFC3339Nano))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return errspkg.Upstream(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errspkg.Upstream(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errspkg.Upstream(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return errspkg.Upstream(op, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := jsoncodec.Unmarshal(body, out); err != nil {
		return errspkg.Upstream(op, fmt.Errorf("GET %s: decode: %w", path, err))
	}
	return nil
}
