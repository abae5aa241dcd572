package services

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotReady is matched (errors.Is) by every *IndexNotReadyError.
	ErrIndexNotReady = errors.New("vector index not ready")

	// ErrBuildInProgress is returned when Build is called while another build runs.
	ErrBuildInProgress = errors.New("vector index build already in progress")
)

// LoadError reports that the corpus location itself could not be read.
type LoadError struct {
	Location string
	cause    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load corpus %s: %v", e.Location, e.cause)
}

func (e *LoadError) Unwrap() error { return e.cause }

// SkippedFileWarning records one corpus entry that could not be read. It is
// logged and counted, never returned from LoadDocuments.
type SkippedFileWarning struct {
	Path  string
	cause error
}

func (w *SkippedFileWarning) Error() string {
	return fmt.Sprintf("skipped %s: %v", w.Path, w.cause)
}

func (w *SkippedFileWarning) Unwrap() error { return w.cause }

// EmbeddingError reports that a text could not be embedded. Index is the
// position of the offending text in a batch, or -1 for single calls.
type EmbeddingError struct {
	Index  int
	Reason string
	cause  error
}

func (e *EmbeddingError) Error() string {
	msg := "embedding failed"
	if e.Index >= 0 {
		msg = fmt.Sprintf("embedding text %d failed", e.Index)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() error { return e.cause }

// InvalidInput reports whether the error was caused by the text itself
// (empty or too long) rather than by the embedding provider.
func (e *EmbeddingError) InvalidInput() bool { return e.cause == nil }

// IndexNotReadyError is returned by queries issued before a build completed.
type IndexNotReadyError struct {
	Backend string
}

func (e *IndexNotReadyError) Error() string {
	return fmt.Sprintf("%s index: %v", e.Backend, ErrIndexNotReady)
}

func (e *IndexNotReadyError) Is(target error) bool { return target == ErrIndexNotReady }

// DimensionMismatchError indicates a vector of the wrong dimensionality.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// GenerationError reports a failed or timed-out language model call.
type GenerationError struct {
	Model string
	cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.cause)
}

func (e *GenerationError) Unwrap() error { return e.cause }
