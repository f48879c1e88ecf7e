package taskstore

import (
	"strings"
	"time"

	"github.com/drblury/taskflow/internal/runtime/validation"
)

// NewTask is the payload of a create event.
type NewTask struct {
	TaskName        string `json:"task_name" validate:"required"`
	DueDate         string `json:"due_date" validate:"required"`
	TaskDescription string `json:"task_description" validate:"required"`
	UUID            string `json:"uuid" validate:"required"`
	TaskDifficulty  *int   `json:"task_difficulty,omitempty"`
	TraceID         string `json:"trace_id,omitempty"`
}

// Validate reports missing required fields. Whitespace-only values count as missing.
func (t NewTask) Validate() error {
	return validation.Struct("taskstore.create", t.normalized())
}

func (t NewTask) normalized() NewTask {
	t.TaskName = strings.TrimSpace(t.TaskName)
	t.DueDate = strings.TrimSpace(t.DueDate)
	t.TaskDescription = strings.TrimSpace(t.TaskDescription)
	t.UUID = strings.TrimSpace(t.UUID)
	t.TraceID = strings.TrimSpace(t.TraceID)
	return t
}

// Completion is the payload of a complete event.
type Completion struct {
	TaskName    string `json:"task_name" validate:"required"`
	UUID        string `json:"uuid" validate:"required"`
	CompletedBy string `json:"completed_by,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
}

// DefaultCompletedBy is recorded when a completion names nobody.
const DefaultCompletedBy = "Unknown"

// Validate reports missing required fields.
func (c Completion) Validate() error {
	return validation.Struct("taskstore.complete", c.normalized())
}

func (c Completion) normalized() Completion {
	c.TaskName = strings.TrimSpace(c.TaskName)
	c.UUID = strings.TrimSpace(c.UUID)
	c.CompletedBy = strings.TrimSpace(c.CompletedBy)
	c.TraceID = strings.TrimSpace(c.TraceID)
	if c.CompletedBy == "" {
		c.CompletedBy = DefaultCompletedBy
	}
	return c
}

// Task is an open task.
type Task struct {
	ID              int64     `json:"id"`
	UUID            string    `json:"uuid"`
	TaskName        string    `json:"task_name"`
	DueDate         string    `json:"due_date"`
	TaskDescription string    `json:"task_description"`
	TaskDifficulty  *int      `json:"task_difficulty"`
	TraceID         string    `json:"trace_id,omitempty"`
	DateCreated     time.Time `json:"date_created"`
}

// CompletedTask is a finished task. Orphans have no difficulty.
type CompletedTask struct {
	ID             int64     `json:"id"`
	UUID           string    `json:"uuid"`
	TaskName       string    `json:"task_name"`
	TaskDifficulty *int      `json:"task_difficulty"`
	TraceID        string    `json:"trace_id,omitempty"`
	CompletedBy    string    `json:"completed_by"`
	CompletedAt    time.Time `json:"completed_at"`
	DateCreated    time.Time `json:"date_created"`
}

// CompletionStatus tells how a completion was applied.
type CompletionStatus string

const (
	// StatusUpdated: an open task was moved to the completed set.
	StatusUpdated CompletionStatus = "updated"
	// StatusCreated: no open task matched and an orphan was recorded.
	StatusCreated CompletionStatus = "created"
	// StatusReplayed: the same completion was already applied.
	StatusReplayed CompletionStatus = "replayed"
)

// CompletionResult is returned by Complete.
type CompletionResult struct {
	Status CompletionStatus `json:"status"`
	Task   CompletedTask    `json:"task"`
}

// Range bounds a query on date_created to [Start, End). Nil bounds are open.
type Range struct {
	Start *time.Time
	End   *time.Time
}

// Event types written to the journal.
const (
	EventCreate   = "create"
	EventComplete = "complete"
)

// Event is one row of the append-only journal written with every state change.
type Event struct {
	ID             int64     `json:"id"`
	Type           string    `json:"type"`
	TaskUUID       string    `json:"task_uuid"`
	TaskName       string    `json:"task_name"`
	TaskDifficulty *int      `json:"task_difficulty"`
	TraceID        string    `json:"trace_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
