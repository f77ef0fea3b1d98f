// Package apperr defines the error-kind taxonomy shared by the scanner,
// streamer and plugin gateway, so HTTP and task-queue boundaries can map a
// single abstract kind to a status code or terminal task state.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of the boundary contracts in
// spec.md §7. It carries no payload; wrap the underlying error with New.
type Kind string

const (
	NotFound         Kind = "not_found"
	Validation       Kind = "validation"
	Security         Kind = "security"
	Network          Kind = "network"
	PluginExecution  Kind = "plugin_execution"
	Serialization    Kind = "serialization"
	Task             Kind = "task"
	Timeout          Kind = "timeout"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	K    Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.K, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.K, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind k, tagged with op (typically "package.Func").
func New(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{K: k, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.K == k
	}
	return false
}

// KindOf returns the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return ""
}
