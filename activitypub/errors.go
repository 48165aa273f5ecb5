package activitypub

import (
	"errors"
	"fmt"
)

// DecodeError reports a payload that is not a usable activity. Retrying it
// can never succeed.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ActorResolutionError reports that the actor of an activity could not be
// fetched or validated.
type ActorResolutionError struct {
	Actor string
	Err   error
}

func (e *ActorResolutionError) Error() string {
	return fmt.Sprintf("resolve actor %s: %v", e.Actor, e.Err)
}

func (e *ActorResolutionError) Unwrap() error { return e.Err }

// UnsupportedActivityError reports an activity type the inbox does not handle.
type UnsupportedActivityError struct {
	Type string
}

func (e *UnsupportedActivityError) Error() string {
	return fmt.Sprintf("unsupported activity type %q", e.Type)
}

// DomainConflictError reports a business rule that turned the activity into a
// no-op, such as a duplicate vote or an already active ban. Handlers absorb it.
type DomainConflictError struct {
	Reason string
}

func (e *DomainConflictError) Error() string {
	return "conflict: " + e.Reason
}

// DependencyMissingError reports a referenced object that could not be
// fetched yet, such as the parent of a reply.
type DependencyMissingError struct {
	URI string
	Err error
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("missing dependency %s: %v", e.URI, e.Err)
}

func (e *DependencyMissingError) Unwrap() error { return e.Err }

// RejectedError reports an activity refused by policy: a forbidden actor, a
// banned instance or an unknown local target.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "rejected: " + e.Reason
}

func reject(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// Disposition tells the queue what to do with a message after processing.
type Disposition int

const (
	// DispositionAck commits the message.
	DispositionAck Disposition = iota
	// DispositionRetry redelivers the message with backoff.
	DispositionRetry
	// DispositionDiscard commits the message without applying it.
	DispositionDiscard
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionRetry:
		return "retry"
	case DispositionDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Classify maps a Process error to a queue disposition. Unknown errors, such
// as database failures, are retried.
func Classify(err error) Disposition {
	if err == nil {
		return DispositionAck
	}

	var (
		decodeErr      *DecodeError
		unsupportedErr *UnsupportedActivityError
		rejectedErr    *RejectedError
		conflictErr    *DomainConflictError
	)
	switch {
	case errors.As(err, &decodeErr), errors.As(err, &unsupportedErr), errors.As(err, &rejectedErr):
		return DispositionDiscard
	case errors.As(err, &conflictErr):
		return DispositionAck
	default:
		return DispositionRetry
	}
}

// errorKind is the metrics label of an error.
func errorKind(err error) string {
	var (
		decodeErr      *DecodeError
		resolveErr     *ActorResolutionError
		unsupportedErr *UnsupportedActivityError
		dependencyErr  *DependencyMissingError
		rejectedErr    *RejectedError
	)
	switch {
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &resolveErr):
		return "actor_resolution"
	case errors.As(err, &unsupportedErr):
		return "unsupported"
	case errors.As(err, &dependencyErr):
		return "dependency_missing"
	case errors.As(err, &rejectedErr):
		return "rejected"
	default:
		return "internal"
	}
}
