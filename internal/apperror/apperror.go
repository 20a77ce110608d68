// Package apperror defines the error taxonomy shared by the graph engine and its stores.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidKey          Kind = "invalid_key"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindUnavailable         Kind = "unavailable"
)

// Error carries a Kind plus the operation that failed and the wrapped cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidKey          = &Error{Kind: KindInvalidKey, Message: "invalid key"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Message: "concurrency conflict"}
	ErrUnavailable         = &Error{Kind: KindUnavailable, Message: "store unavailable"}
)

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound builds a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidKey builds a KindInvalidKey error.
func InvalidKey(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidKey, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict wraps err as a KindConcurrencyConflict error.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConcurrencyConflict, Op: op, Message: "row changed concurrently", Err: err}
}

// Unavailable wraps err as a KindUnavailable error.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Message: "persistence layer unreachable", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
