package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransientFetch matches errors left by a failed list fetch.
	ErrTransientFetch = errors.New("list fetch failed")

	// ErrMutationFailed matches errors left by a rejected row mutation.
	ErrMutationFailed = errors.New("row mutation failed")

	// ErrNoMutator is returned by MutateRow when the view has no mutator.
	ErrNoMutator = errors.New("view does not support row actions")

	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("controller closed")
)

// ErrorKind classifies the error held in the view model.
type ErrorKind string

const (
	// KindTransientFetch: the list fetch failed; previous rows stay visible.
	KindTransientFetch ErrorKind = "transient_fetch"

	// KindMutationFailure: a row action was rejected; no refresh happened.
	KindMutationFailure ErrorKind = "mutation_failure"
)

// Error is the single error slot of a view. It is replaced by the
// outcome of the next fetch or mutation.
type Error struct {
	Kind ErrorKind
	Key  string // row key for mutation failures
	Err  error
	At   time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransientFetch:
		return e.Kind == KindTransientFetch
	case ErrMutationFailed:
		return e.Kind == KindMutationFailure
	}
	return false
}

// MarshalJSON renders the error for a presentation layer.
func (e *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Key     string    `json:"key,omitempty"`
		Message string    `json:"message"`
		At      time.Time `json:"at"`
	}{e.Kind, e.Key, msg, e.At})
}
