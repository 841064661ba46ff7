// Package causalerr defines the error taxonomy used across the causal
// memory kernel, grounded on the teacher's pervasive fmt.Errorf("...: %w")
// wrapping style (every surveyed package in the example repo wraps errors
// this way rather than defining custom error types per call site).
package causalerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for retry policy and user-facing reporting, per
// the error handling design in the specification (§7).
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindCapacity    Kind = "capacity"
	KindStorage     Kind = "storage"
	KindEmbedder    Kind = "embedder"
	KindConcurrency Kind = "concurrency"
)

// Error is a classified, wrappable error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an operation label.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is a causalerr.Error of the
// given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Validation-level sentinels reused across the chunk/edge data model.
var (
	ErrEmptyTurnIndices    = errors.New("turn indices must be nonempty")
	ErrUnsortedTurnIndices = errors.New("turn indices must be sorted ascending")
	ErrEndBeforeStart      = errors.New("chunk end time precedes start time")
	ErrEmptyQuery          = errors.New("query must not be empty")
	ErrBudgetTooSmall      = errors.New("token budget too small to include any chunk")
	ErrUnknownChunk        = errors.New("chunk not found")
	ErrUnknownProject      = errors.New("project not found")
	ErrNegativeClockTick   = errors.New("vector clock tick must be non-negative and finite")
	ErrCancelled           = errors.New("operation cancelled")
)

// Retryable reports whether err represents a transient storage/embedder
// condition worth retrying with backoff — grounded on the retry-loop
// heuristic in the teacher's internal/sefii engine.go (execWithRetry),
// generalized here to a string-classification helper used by the
// cenkalti/backoff-based retry wrapper.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"database is locked",
		"busy",
		"connection reset",
		"i/o timeout",
		"too many connections",
		"eof",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
