// Package errors defines the error taxonomy shared by the taskflow services.
//
// Domain failures are reported as *Error values carrying a Kind. Callers match
// them with the standard library: errors.Is(err, ErrValidation) or
// errors.As(err, &target). Handler control errors (ErrSkip, ErrRetry,
// ErrDeadLetter) steer the consumer loop without describing a domain failure.
package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired   = sterrors.New("taskflow: event service is required")
	ErrHandlerRequired   = sterrors.New("taskflow: handler function is required")
	ErrEventTypeRequired = sterrors.New("taskflow: event type is required")
	ErrPublisherRequired = sterrors.New("taskflow: publisher is required")
	ErrTopicRequired     = sterrors.New("taskflow: topic is required")
	ErrConfigRequired    = sterrors.New("taskflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("taskflow: logger is required")
	ErrPayloadRequired   = sterrors.New("taskflow: event payload is required")
)

// Kind classifies a domain failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks a missing or invalid required field. Never retried.
	KindValidation
	// KindNotFound marks an absent resource or index.
	KindNotFound
	// KindUpstream marks an unreachable or failing broker or HTTP dependency.
	KindUpstream
	// KindPersistence marks a failed store write. The unit of work was rolled back.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a Kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrUpstream    = &Error{Kind: KindUpstream}
	ErrPersistence = &Error{Kind: KindPersistence}
)

// Error is a classified failure with the operation that produced it.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation reports a missing or invalid field.
func Validation(op, field, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Msg: msg}
}

// Validationf wraps an underlying validation failure, for example from a struct validator.
func Validationf(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// NotFound reports an absent resource.
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Upstream wraps a broker or HTTP dependency failure.
func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// Persistence wraps a failed store write.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if sterrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("taskflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
