package taskstore

import (
	"context"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/envelope"
)

// Writer is the part of Store the event handlers need.
type Writer interface {
	Create(ctx context.Context, in NewTask) (Task, error)
	Complete(ctx context.Context, in Completion) (CompletionResult, error)
}

// RegisterHandlers binds the create and complete events to w. The envelope
// trace id is used when the payload carries none.
func RegisterHandlers(svc *runtime.Service, w Writer) error {
	if err := runtime.HandleJSON(svc, envelope.TypeCreate, func(ctx context.Context, in NewTask, env envelope.Envelope) error {
		if in.TraceID == "" {
			in.TraceID = env.TraceID
		}
		_, err := w.Create(ctx, in)
		return err
	}); err != nil {
		return err
	}

	return runtime.HandleJSON(svc, envelope.TypeComplete, func(ctx context.Context, in Completion, env envelope.Envelope) error {
		if in.TraceID == "" {
			in.TraceID = env.TraceID
		}
		_, err := w.Complete(ctx, in)
		return err
	})
}
