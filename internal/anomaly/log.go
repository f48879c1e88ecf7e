package anomaly

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/drblury/taskflow/internal/filestore"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

const (
	readAttempts = 3
	readDelay    = 50 * time.Millisecond
)

// Log is the durable anomaly log. Append rewrites the whole document, so
// there must be a single writer; readers may run concurrently.
type Log struct {
	file *filestore.File[[]Anomaly]
	log  loggingpkg.ServiceLogger
}

func NewLog(path string, log loggingpkg.ServiceLogger) *Log {
	if log == nil {
		log = loggingpkg.Discard()
	}
	return &Log{file: filestore.New[[]Anomaly](path), log: log}
}

// Append adds a to the end of the log.
func (l *Log) Append(_ context.Context, a Anomaly) error {
	err := l.file.Update(func(cur []Anomaly, _ bool) ([]Anomaly, error) {
		return append(cur, a), nil
	})
	if err != nil {
		return errspkg.Persistence("anomaly.append", err)
	}
	return nil
}

// List returns the logged anomalies, oldest first, keeping only anomalyType
// when it is set. A log that still cannot be read after a few attempts is
// reported as empty.
func (l *Log) List(ctx context.Context, anomalyType string) ([]Anomaly, error) {
	all, err := backoff.Retry(ctx, func() ([]Anomaly, error) {
		v, _, err := l.file.Load()
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(readDelay)),
		backoff.WithMaxTries(readAttempts),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.log.Error("Anomaly log unreadable, reporting no anomalies", err, loggingpkg.LogFields{"path": l.file.Path()})
		return []Anomaly{}, nil
	}

	wanted := strings.TrimSpace(anomalyType)
	out := make([]Anomaly, 0, len(all))
	for _, a := range all {
		if wanted == "" || strings.EqualFold(a.AnomalyType, wanted) {
			out = append(out, a)
		}
	}
	return out, nil
}
