package errors

import (
	sterrors "errors"
	"fmt"
)

// Handler control errors. They tell the consumer loop what to do with the
// current message regardless of the configured failure policy.
var (
	// ErrRetry asks for the message to be retried with backoff.
	ErrRetry = sterrors.New("taskflow: retry message")

	// ErrDeadLetter asks for the message to be moved to the dead-letter topic.
	ErrDeadLetter = sterrors.New("taskflow: send to dead letter topic")

	// ErrSkip asks for the message to be committed without further processing.
	ErrSkip = sterrors.New("taskflow: skip message")

	// ErrUnprocessable marks a message that can never be handled, such as an
	// undecodable envelope.
	ErrUnprocessable = sterrors.New("taskflow: unprocessable message")
)

// DeadLetterError carries the reason a message is being dead-lettered.
type DeadLetterError struct {
	Reason string
	Cause  error
}

// DeadLetterWithReason builds a DeadLetterError.
func DeadLetterWithReason(reason string, cause error) *DeadLetterError {
	return &DeadLetterError{Reason: reason, Cause: cause}
}

func (e *DeadLetterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("taskflow: dead letter (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("taskflow: dead letter (%s)", e.Reason)
}

func (e *DeadLetterError) Unwrap() error {
	return e.Cause
}

func (e *DeadLetterError) Is(target error) bool {
	return target == ErrDeadLetter
}

// Action is the consumer's decision for a failed message.
type Action int

const (
	// ActionAck commits the message.
	ActionAck Action = iota
	// ActionRetry re-runs the handler after a backoff.
	ActionRetry
	// ActionDeadLetter forwards the message to the dead-letter topic.
	ActionDeadLetter
	// ActionSkip commits the message without success.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Classify maps a handler error onto the action it asks for. Control errors
// win over the domain taxonomy. Validation failures and unprocessable messages
// are deterministic and never worth retrying.
func Classify(err error) Action {
	if err == nil {
		return ActionAck
	}

	switch {
	case sterrors.Is(err, ErrSkip):
		return ActionSkip
	case sterrors.Is(err, ErrDeadLetter), sterrors.Is(err, ErrUnprocessable):
		return ActionDeadLetter
	case sterrors.Is(err, ErrRetry):
		return ActionRetry
	}

	switch KindOf(err) {
	case KindValidation, KindNotFound:
		return ActionDeadLetter
	default:
		return ActionRetry
	}
}

// IsRetryable reports whether err asks for another attempt.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == ActionRetry
}
