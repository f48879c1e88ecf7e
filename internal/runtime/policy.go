package runtime

import (
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// FailurePolicy decides what the consumer does with a message whose handler
// returned an error.
type FailurePolicy interface {
	// Name is the configuration value selecting the policy.
	Name() string

	// ShouldRetry reports whether the handler should be re-run in place.
	ShouldRetry(err error) bool

	// Resolve picks the final action once retries are over. ActionRetry means
	// the message is nacked and left for the broker to redeliver.
	Resolve(err error, hasDeadLetter bool) errspkg.Action
}

// PolicyFor returns the built-in policy registered under name. Unknown names
// fall back to retry.
func PolicyFor(name string) FailurePolicy {
	switch name {
	case configpkg.OnFailureDeadLetter:
		return DeadLetterPolicy{}
	case configpkg.OnFailureSkip:
		return SkipPolicy{}
	default:
		return RetryPolicy{}
	}
}

// RetryPolicy retries transient failures in place. Exhausted messages go to
// the dead-letter topic when one is configured and are nacked otherwise.
type RetryPolicy struct{}

func (RetryPolicy) Name() string { return configpkg.OnFailureRetry }

func (RetryPolicy) ShouldRetry(err error) bool {
	return errspkg.IsRetryable(err)
}

func (RetryPolicy) Resolve(err error, hasDeadLetter bool) errspkg.Action {
	switch errspkg.Classify(err) {
	case errspkg.ActionAck:
		return errspkg.ActionAck
	case errspkg.ActionSkip:
		return errspkg.ActionSkip
	case errspkg.ActionDeadLetter:
		return deterministic(hasDeadLetter)
	default:
		if hasDeadLetter {
			return errspkg.ActionDeadLetter
		}
		return errspkg.ActionRetry
	}
}

// DeadLetterPolicy never retries. Every failure is forwarded and acked.
type DeadLetterPolicy struct{}

func (DeadLetterPolicy) Name() string { return configpkg.OnFailureDeadLetter }

func (DeadLetterPolicy) ShouldRetry(error) bool { return false }

func (DeadLetterPolicy) Resolve(err error, hasDeadLetter bool) errspkg.Action {
	switch errspkg.Classify(err) {
	case errspkg.ActionAck:
		return errspkg.ActionAck
	case errspkg.ActionSkip:
		return errspkg.ActionSkip
	default:
		return deterministic(hasDeadLetter)
	}
}

// SkipPolicy logs and acks failures. Handlers can still ask for the
// dead-letter topic explicitly.
type SkipPolicy struct{}

func (SkipPolicy) Name() string { return configpkg.OnFailureSkip }

func (SkipPolicy) ShouldRetry(error) bool { return false }

func (SkipPolicy) Resolve(err error, hasDeadLetter bool) errspkg.Action {
	switch errspkg.Classify(err) {
	case errspkg.ActionAck:
		return errspkg.ActionAck
	case errspkg.ActionDeadLetter:
		return deterministic(hasDeadLetter)
	default:
		return errspkg.ActionSkip
	}
}

// deterministic handles failures that will fail again on every delivery.
func deterministic(hasDeadLetter bool) errspkg.Action {
	if hasDeadLetter {
		return errspkg.ActionDeadLetter
	}
	return errspkg.ActionSkip
}
