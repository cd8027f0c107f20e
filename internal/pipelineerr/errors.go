// Package pipelineerr defines the small typed-error taxonomy shared
// across the pipeline's components, so a caller can branch on failure
// class with errors.As instead of matching on message text.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// Config covers YAML parse, validation, unresolved extends, and
	// circular rule inheritance.
	Config Kind = "config"
	// IO covers file read/write/rename, directory create, and watcher
	// attach failures.
	IO Kind = "io"
	// Arithmetic covers zero-variance dimensions and empty populations.
	// These are soft failures: callers treat them as "no signal," not a
	// reason to abort, so Arithmetic is rarely constructed directly.
	Arithmetic Kind = "arithmetic"
	// Evaluation covers template param deserialization and composition
	// arity violations caught defensively at evaluation time.
	Evaluation Kind = "evaluation"
	// Channel covers notification delivery failures: non-2xx responses,
	// SMTP failures, and missing environment variables at construction.
	Channel Kind = "channel"
	// Schedule covers cron parse failures, which invalidate one rule
	// without affecting the rest of the schedule.
	Schedule Kind = "schedule"
)

// Error is a typed, wrapped pipeline failure. Unwrap exposes the
// underlying cause to errors.Is and errors.As; Of tests the Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ConfigError wraps a configuration failure.
func ConfigError(err error, format string, args ...any) *Error {
	return newf(Config, err, format, args...)
}

// IOError wraps a filesystem failure.
func IOError(err error, format string, args ...any) *Error {
	return newf(IO, err, format, args...)
}

// EvaluationError wraps a rule-evaluation failure.
func EvaluationError(err error, format string, args ...any) *Error {
	return newf(Evaluation, err, format, args...)
}

// ChannelError wraps a notification delivery or construction failure.
func ChannelError(err error, format string, args ...any) *Error {
	return newf(Channel, err, format, args...)
}

// ScheduleError wraps a cron/schedule failure.
func ScheduleError(err error, format string, args ...any) *Error {
	return newf(Schedule, err, format, args...)
}

// Of reports whether err is a pipelineerr.Error of the given kind.
func Of(kind Kind, err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}
