package taskstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// stepClock returns start, then start+step, start+2*step and so on.
type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

var clockStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	clock := &stepClock{next: clockStart, step: time.Minute}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := Open(context.Background(), "sqlite3", ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func difficulty(v int) *int { return &v }

func newTask(name, uuid string, d *int) NewTask {
	return NewTask{
		TaskName:        name,
		DueDate:         "2025-03-10",
		TaskDescription: "write the report",
		UUID:            uuid,
		TaskDifficulty:  d,
	}
}

func TestCreateStoresOpenTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.Create(ctx, newTask("report", "u-1", difficulty(3)))
	require.NoError(t, err)
	assert.NotZero(t, task.ID)
	assert.Equal(t, clockStart, task.DateCreated)

	tasks, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "report", tasks[0].TaskName)
	assert.Equal(t, "u-1", tasks[0].UUID)
	require.NotNil(t, tasks[0].TaskDifficulty)
	assert.Equal(t, 3, *tasks[0].TaskDifficulty)
	assert.Equal(t, clockStart, tasks[0].DateCreated)
}

func TestCreateRejectsMissingFields(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), NewTask{TaskName: "  ", DueDate: "2025-03-10", TaskDescription: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrValidation)
	assert.Contains(t, err.Error(), "task_name")
	assert.Contains(t, err.Error(), "uuid")

	tasks, err := s.QueryTasks(context.Background(), Range{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateReplayReturnsExistingTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := newTask("report", "u-1", nil)
	in.TraceID = "trace-1"
	first, err := s.Create(ctx, in)
	require.NoError(t, err)

	second, err := s.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tasks, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	events, err := s.EventsSince(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCompleteMatchesByUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, newTask("report", "u-1", difficulty(2)))
	require.NoError(t, err)
	_, err = s.Create(ctx, newTask("report", "u-2", difficulty(5)))
	require.NoError(t, err)

	res, err := s.Complete(ctx, Completion{TaskName: "report", UUID: "u-2", CompletedBy: "ana"})
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	require.NotNil(t, res.Task.TaskDifficulty)
	assert.Equal(t, 5, *res.Task.TaskDifficulty)
	assert.Equal(t, "ana", res.Task.CompletedBy)

	open, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "u-1", open[0].UUID)
}

func TestCompleteFallsBackToOldestByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, newTask("report", "u-1", difficulty(2)))
	require.NoError(t, err)
	_, err = s.Create(ctx, newTask("report", "u-2", difficulty(5)))
	require.NoError(t, err)

	res, err := s.Complete(ctx, Completion{TaskName: "report", UUID: "other"})
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	require.NotNil(t, res.Task.TaskDifficulty)
	assert.Equal(t, 2, *res.Task.TaskDifficulty)
	assert.Equal(t, DefaultCompletedBy, res.Task.CompletedBy)

	open, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "u-2", open[0].UUID)
}

func TestCompleteNamePolicyIgnoresUUID(t *testing.T) {
	s := newTestStore(t, WithMatchPolicy(configpkg.MatchName))
	ctx := context.Background()

	_, err := s.Create(ctx, newTask("report", "u-1", difficulty(2)))
	require.NoError(t, err)
	_, err = s.Create(ctx, newTask("report", "u-2", difficulty(5)))
	require.NoError(t, err)

	res, err := s.Complete(ctx, Completion{TaskName: "report", UUID: "u-2"})
	require.NoError(t, err)
	require.NotNil(t, res.Task.TaskDifficulty)
	assert.Equal(t, 2, *res.Task.TaskDifficulty)
}

func TestCompleteWithoutOpenTaskRecordsOrphan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Complete(ctx, Completion{TaskName: "ghost", UUID: "u-9", CompletedBy: "bo"})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Nil(t, res.Task.TaskDifficulty)

	done, err := s.QueryCompleted(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "ghost", done[0].TaskName)
	assert.Nil(t, done[0].TaskDifficulty)
	assert.Equal(t, done[0].CompletedAt, done[0].DateCreated)
}

func TestCompleteUUIDOfOtherNameIsOrphan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, newTask("A", "u-1", difficulty(5)))
	require.NoError(t, err)

	res, err := s.Complete(ctx, Completion{TaskName: "ghost", UUID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, "ghost", res.Task.TaskName)
	assert.Nil(t, res.Task.TaskDifficulty)

	open, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "A", open[0].TaskName)
}

func TestCompleteReplayIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, newTask("report", "u-1", difficulty(1)))
	require.NoError(t, err)
	_, err = s.Create(ctx, newTask("report", "u-2", difficulty(4)))
	require.NoError(t, err)

	in := Completion{TaskName: "report", UUID: "u-1", TraceID: "trace-c"}
	first, err := s.Complete(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, first.Status)

	second, err := s.Complete(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, StatusReplayed, second.Status)
	assert.Equal(t, first.Task.ID, second.Task.ID)

	open, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	require.Len(t, open, 1, "a replayed completion must not consume another task")
	assert.Equal(t, "u-2", open[0].UUID)

	done, err := s.QueryCompleted(ctx, Range{})
	require.NoError(t, err)
	assert.Len(t, done, 1)
}

func TestQueryRangeIsHalfOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, newTask("t-"+id, id, nil))
		require.NoError(t, err)
	}

	start := clockStart.Add(time.Minute)
	end := clockStart.Add(2 * time.Minute)
	tasks, err := s.QueryTasks(ctx, Range{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].UUID)

	tasks, err = s.QueryTasks(ctx, Range{Start: &start})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = s.QueryTasks(ctx, Range{End: &start})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].UUID)
}

func TestEventsSinceFollowsJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, newTask("report", "u-1", difficulty(3)))
	require.NoError(t, err)
	_, err = s.Complete(ctx, Completion{TaskName: "report", UUID: "u-1"})
	require.NoError(t, err)
	_, err = s.Complete(ctx, Completion{TaskName: "ghost", UUID: "u-2"})
	require.NoError(t, err)

	events, err := s.EventsSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventCreate, events[0].Type)
	assert.Equal(t, EventComplete, events[1].Type)
	require.NotNil(t, events[1].TaskDifficulty)
	assert.Equal(t, 3, *events[1].TaskDifficulty)
	assert.Nil(t, events[2].TaskDifficulty)

	page, err := s.EventsSince(ctx, events[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, events[1].ID, page[0].ID)

	rest, err := s.EventsSince(ctx, events[2].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestFailedWriteRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `DROP TABLE task_events`)
	require.NoError(t, err)

	_, err = s.Create(ctx, newTask("report", "u-1", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrPersistence)

	tasks, err := s.QueryTasks(ctx, Range{})
	require.NoError(t, err)
	assert.Empty(t, tasks, "task insert must roll back with the journal write")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	require.Error(t, err)
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	assert.Equal(t, "a = $1 AND b < $2", postgresDialect.rebind("a = ? AND b < ?"))
	assert.Equal(t, "a = ?", sqliteDialect.rebind("a = ?"))
}
