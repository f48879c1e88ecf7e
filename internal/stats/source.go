package stats

import (
	"context"
	"time"

	"github.com/drblury/taskflow/internal/taskstore"
)

// EventSource returns the events recorded after a checkpoint.
type EventSource interface {
	Fetch(ctx context.Context, cp Checkpoint, now time.Time) (Batch, error)
}

// JournalReader is the part of the task store a JournalSource reads.
type JournalReader interface {
	EventsSince(ctx context.Context, afterID int64, limit int) ([]taskstore.Event, error)
}

// JournalSource reads the task store journal by id, so a cycle that fails
// before saving is replayed exactly on the next one.
type JournalSource struct {
	journal JournalReader
	limit   int
}

// NewJournalSource reads at most limit events per cycle; zero means no limit.
func NewJournalSource(journal JournalReader, limit int) *JournalSource {
	return &JournalSource{journal: journal, limit: limit}
}

func (s *JournalSource) Fetch(ctx context.Context, cp Checkpoint, _ time.Time) (Batch, error) {
	events, err := s.journal.EventsSince(ctx, cp.LastEventID, s.limit)
	if err != nil {
		return Batch{}, err
	}

	b := Batch{LastEventID: cp.LastEventID}
	for _, e := range events {
		switch e.Type {
		case taskstore.EventCreate:
			b.Creates++
			if e.TaskDifficulty != nil {
				b.Difficulties = append(b.Difficulties, *e.TaskDifficulty)
			}
		case taskstore.EventComplete:
			b.Completes++
		}
		b.LastEventID = e.ID
	}
	return b, nil
}
