// Package taskstore persists open and completed tasks and the journal of
// every state change. A task is OPEN while a row exists in tasks; completing
// it moves it to completed_tasks. A completion with no open match is stored
// as an orphan with no difficulty. Each create and complete runs in a single
// transaction together with its journal row.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// Store is the TaskStore backed by PostgreSQL or SQLite.
type Store struct {
	db          *sql.DB
	dialect     dialect
	log         loggingpkg.ServiceLogger
	matchPolicy string
	now         func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithMatchPolicy selects how completions find their open task.
func WithMatchPolicy(policy string) Option {
	return func(s *Store) {
		if policy != "" {
			s.matchPolicy = policy
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log loggingpkg.ServiceLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to the database, applies the embedded migrations and returns
// a ready Store.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	if d == sqliteDialect {
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open %s: %w", d.name, err)
	}
	if d == sqliteDialect {
		// One connection serialises writers and keeps :memory: databases whole.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("taskstore: connect %s: %w", d.name, err)
	}

	s, err := New(ctx, db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN creates the parent directory of file databases and turns on
// WAL and a busy timeout unless the DSN already sets its own options.
func sqliteDSN(dsn string) (string, error) {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return dsn, nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("taskstore: create database directory: %w", err)
		}
	}
	if strings.Contains(dsn, "?") {
		return dsn, nil
	}
	return dsn + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", nil
}

// New wraps an open database and applies the migrations.
func New(ctx context.Context, db *sql.DB, driver string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:          db,
		dialect:     d,
		log:         loggingpkg.Discard(),
		matchPolicy: configpkg.MatchUUIDThenName,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := migrate(ctx, db, d, s.log); err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const taskColumns = `id, uuid, task_name, due_date, task_description, task_difficulty, trace_id, date_created`

const completedColumns = `id, uuid, task_name, task_difficulty, trace_id, completed_by, completed_at, date_created`

// Create stores a new OPEN task. A redelivered create, recognised by the same
// uuid and trace id, returns the task already stored.
func (s *Store) Create(ctx context.Context, in NewTask) (Task, error) {
	const op = "taskstore.create"
	in = in.normalized()
	if err := in.Validate(); err != nil {
		return Task{}, err
	}

	var out Task
	replayed := false
	err := runInTransaction(ctx, s.db, s.log, func(ctx context.Context, tx *sql.Tx) error {
		if in.TraceID != "" {
			existing, err := s.scanTask(tx.QueryRowContext(ctx, s.dialect.rebind(
				`SELECT `+taskColumns+` FROM tasks WHERE uuid = ? AND trace_id = ? ORDER BY id LIMIT 1`),
				in.UUID, in.TraceID))
			switch {
			case err == nil:
				out, replayed = existing, true
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		now := s.timestamp()
		out = Task{
			UUID:            in.UUID,
			TaskName:        in.TaskName,
			DueDate:         in.DueDate,
			TaskDescription: in.TaskDescription,
			TaskDifficulty:  in.TaskDifficulty,
			TraceID:         in.TraceID,
			DateCreated:     now,
		}
		err := tx.QueryRowContext(ctx, s.dialect.rebind(
			`INSERT INTO tasks (uuid, task_name, due_date, task_description, task_difficulty, trace_id, date_created)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			out.UUID, out.TaskName, out.DueDate, out.TaskDescription,
			nullInt(out.TaskDifficulty), nullString(out.TraceID), out.DateCreated,
		).Scan(&out.ID)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		return s.appendEvent(ctx, tx, Event{
			Type:           EventCreate,
			TaskUUID:       out.UUID,
			TaskName:       out.TaskName,
			TaskDifficulty: out.TaskDifficulty,
			TraceID:        out.TraceID,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return Task{}, errspkg.Persistence(op, err)
	}

	fields := loggingpkg.LogFields{"task_id": out.ID, "uuid": out.UUID, "trace_id": out.TraceID}
	if replayed {
		s.log.Info("Task create already applied", fields)
	} else {
		s.log.Info("Task created", fields)
	}
	return out, nil
}

// Complete moves the matching OPEN task to the completed set, or records an
// orphan completion when none matches. With the uuid_then_name policy the
// task with the same uuid wins, then the oldest open task with the same name.
func (s *Store) Complete(ctx context.Context, in Completion) (CompletionResult, error) {
	const op = "taskstore.complete"
	in = in.normalized()
	if err := in.Validate(); err != nil {
		return CompletionResult{}, err
	}

	var result CompletionResult
	err := runInTransaction(ctx, s.db, s.log, func(ctx context.Context, tx *sql.Tx) error {
		if in.TraceID != "" {
			existing, err := s.scanCompleted(tx.QueryRowContext(ctx, s.dialect.rebind(
				`SELECT `+completedColumns+` FROM completed_tasks WHERE uuid = ? AND trace_id = ? ORDER BY id LIMIT 1`),
				in.UUID, in.TraceID))
			switch {
			case err == nil:
				result = CompletionResult{Status: StatusReplayed, Task: existing}
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		open, err := s.findOpenTask(ctx, tx, in)
		if err != nil {
			return err
		}

		now := s.timestamp()
		completed := CompletedTask{
			UUID:        in.UUID,
			TaskName:    in.TaskName,
			TraceID:     in.TraceID,
			CompletedBy: in.CompletedBy,
			CompletedAt: now,
			DateCreated: now,
		}
		result.Status = StatusCreated

		if open != nil {
			completed.TaskDifficulty = open.TaskDifficulty
			result.Status = StatusUpdated
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM tasks WHERE id = ?`), open.ID); err != nil {
				return fmt.Errorf("delete open task: %w", err)
			}
		}

		err = tx.QueryRowContext(ctx, s.dialect.rebind(
			`INSERT INTO completed_tasks (uuid, task_name, task_difficulty, trace_id, completed_by, completed_at, date_created)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			completed.UUID, completed.TaskName, nullInt(completed.TaskDifficulty), nullString(completed.TraceID),
			completed.CompletedBy, completed.CompletedAt, completed.DateCreated,
		).Scan(&completed.ID)
		if err != nil {
			return fmt.Errorf("insert completed task: %w", err)
		}
		result.Task = completed

		return s.appendEvent(ctx, tx, Event{
			Type:           EventComplete,
			TaskUUID:       completed.UUID,
			TaskName:       completed.TaskName,
			TaskDifficulty: completed.TaskDifficulty,
			TraceID:        completed.TraceID,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return CompletionResult{}, errspkg.Persistence(op, err)
	}

	s.log.Info("Task completed", loggingpkg.LogFields{
		"task_name": in.TaskName,
		"uuid":      in.UUID,
		"trace_id":  in.TraceID,
		"status":    string(result.Status),
	})
	return result, nil
}

// findOpenTask only considers open tasks with the completion's name. Under
// uuid_then_name the uuid picks among same-named tasks; a uuid held by a task
// with another name never matches.
func (s *Store) findOpenTask(ctx context.Context, tx *sql.Tx, in Completion) (*Task, error) {
	type lookup struct {
		by    string
		where string
		args  []any
	}
	lookups := []lookup{{"task_name", `task_name = ?`, []any{in.TaskName}}}
	if s.matchPolicy != configpkg.MatchName {
		lookups = append([]lookup{{"uuid", `task_name = ? AND uuid = ?`, []any{in.TaskName, in.UUID}}}, lookups...)
	}

	for _, l := range lookups {
		task, err := s.scanTask(tx.QueryRowContext(ctx, s.dialect.rebind(
			`SELECT `+taskColumns+` FROM tasks WHERE `+l.where+` ORDER BY id LIMIT 1`+s.dialect.lockClause),
			l.args...))
		switch {
		case err == nil:
			return &task, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("find open task by %s: %w", l.by, err)
		}
	}
	return nil, nil
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	_, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO task_events (type, task_uuid, task_name, task_difficulty, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		e.Type, e.TaskUUID, e.TaskName, nullInt(e.TaskDifficulty), nullString(e.TraceID), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append journal event: %w", err)
	}
	return nil
}

// QueryTasks returns open tasks created within r, oldest first.
func (s *Store) QueryTasks(ctx context.Context, r Range) ([]Task, error) {
	where, args := r.clause()
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY id`), args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// QueryCompleted returns completed tasks created within r, oldest first.
func (s *Store) QueryCompleted(ctx context.Context, r Range) ([]CompletedTask, error) {
	where, args := r.clause()
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+completedColumns+` FROM completed_tasks`+where+` ORDER BY id`), args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: query completed tasks: %w", err)
	}
	defer rows.Close()

	tasks := []CompletedTask{}
	for rows.Next() {
		t, err := s.scanCompleted(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore: scan completed task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// EventsSince returns journal rows with an id above afterID in ascending
// order. A limit of zero or less returns every row.
func (s *Store) EventsSince(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	query := `SELECT id, type, task_uuid, task_name, task_difficulty, trace_id, created_at
		FROM task_events WHERE id > ? ORDER BY id`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e          Event
			difficulty sql.NullInt64
			traceID    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.TaskUUID, &e.TaskName, &difficulty, &traceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("taskstore: scan event: %w", err)
		}
		e.TaskDifficulty = intPtr(difficulty)
		e.TraceID = traceID.String
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r Range) clause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if r.Start != nil {
		conds = append(conds, "date_created >= ?")
		args = append(args, r.Start.UTC())
	}
	if r.End != nil {
		conds = append(conds, "date_created < ?")
		args = append(args, r.End.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(row rowScanner) (Task, error) {
	var (
		t          Task
		difficulty sql.NullInt64
		traceID    sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UUID, &t.TaskName, &t.DueDate, &t.TaskDescription, &difficulty, &traceID, &t.DateCreated); err != nil {
		return Task{}, err
	}
	t.TaskDifficulty = intPtr(difficulty)
	t.TraceID = traceID.String
	t.DateCreated = t.DateCreated.UTC()
	return t, nil
}

func (s *Store) scanCompleted(row rowScanner) (CompletedTask, error) {
	var (
		t          CompletedTask
		difficulty sql.NullInt64
		traceID    sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UUID, &t.TaskName, &difficulty, &traceID, &t.CompletedBy, &t.CompletedAt, &t.DateCreated); err != nil {
		return CompletedTask{}, err
	}
	t.TaskDifficulty = intPtr(difficulty)
	t.TraceID = traceID.String
	t.CompletedAt = t.CompletedAt.UTC()
	t.DateCreated = t.DateCreated.UTC()
	return t, nil
}

// timestamp is the current time in UTC at microsecond precision, the finest
// both databases keep.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
