// Package stats maintains the running task statistics served by the
// processing service. An Aggregator folds batches of new events into a
// persisted Snapshot on a fixed schedule, advancing its checkpoint only after
// the new snapshot has been saved.
package stats

import "time"

// Snapshot is the persisted statistics document.
type Snapshot struct {
	NumTasks          int64   `json:"num_tasks"`
	CompletedTasks    int64   `json:"completed_tasks"`
	MaxTaskDifficulty int     `json:"max_task_difficulty"`
	AvgTaskDifficulty float64 `json:"avg_task_difficulty"`
	// RatedTasks counts the creates that carried a difficulty and is the
	// weight of AvgTaskDifficulty.
	RatedTasks  int64     `json:"rated_tasks"`
	LastEventID int64     `json:"last_event_id"`
	LastUpdated time.Time `json:"last_updated"`
}

// Checkpoint returns where the next fetch starts.
func (s Snapshot) Checkpoint() Checkpoint {
	return Checkpoint{LastEventID: s.LastEventID, LastUpdated: s.LastUpdated}
}

// Checkpoint marks aggregation progress. Journal sources use LastEventID,
// window sources use LastUpdated.
type Checkpoint struct {
	LastEventID int64
	LastUpdated time.Time
}

// Batch is what a source found since the checkpoint.
type Batch struct {
	Creates   int
	Completes int
	// Difficulties holds the difficulty of every new create that had one.
	Difficulties []int
	// LastEventID is the highest journal id seen, or zero for window sources.
	LastEventID int64
}

// Merge folds b into s and moves the checkpoint to now and b.LastEventID.
// The average is updated from the old mean and weight alone.
func (s Snapshot) Merge(b Batch, now time.Time) Snapshot {
	s.NumTasks += int64(b.Creates)
	s.CompletedTasks += int64(b.Completes)

	if k := len(b.Difficulties); k > 0 {
		sum := 0
		for _, d := range b.Difficulties {
			sum += d
			if d > s.MaxTaskDifficulty {
				s.MaxTaskDifficulty = d
			}
		}
		weight := s.RatedTasks + int64(k)
		if weight > 0 {
			s.AvgTaskDifficulty = (s.AvgTaskDifficulty*float64(s.RatedTasks) + float64(sum)) / float64(weight)
		}
		s.RatedTasks = weight
	}

	if b.LastEventID > s.LastEventID {
		s.LastEventID = b.LastEventID
	}
	s.LastUpdated = now
	return s
}
