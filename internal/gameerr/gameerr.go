// Package gameerr classifies turn failures for callers.
package gameerr

import (
	"errors"
	"fmt"
)

// Kind is the category of a turn failure.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindStaleWrite   Kind = "stale_write"
	KindExternal     Kind = "external"
	KindStorage      Kind = "storage"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
)

// Error is the structured failure surfaced to callers.
type Error struct {
	Kind      Kind
	Op        string
	SessionID string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s (session %s): %s", e.Kind, e.Op, e.SessionID, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind wrapping cause.
func New(kind Kind, op, sessionID string, cause error) *Error {
	e := &Error{Kind: kind, Op: op, SessionID: sessionID, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Transient marks the error as worth retrying.
func (e *Error) Transient() *Error {
	e.Retryable = true
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retry hint.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
