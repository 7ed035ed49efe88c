package knowledge

import (
	"errors"
	"fmt"
)

// Sentinel errors for Go-idiomatic checking with errors.Is().
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRetrievalTimeout indicates a retrieval call hit its deadline.
	// Callers receive the best-so-far ranked set alongside this error.
	ErrRetrievalTimeout = errors.New("retrieval timed out")

	// ErrDimensionMismatch indicates an embedding vector does not match
	// the dimensionality fixed by the store schema.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// FormatError reports a source document that cannot be decoded or parsed.
// The ingestion pipeline logs it and skips the document rather than
// aborting the batch.
type FormatError struct {
	Source string // file path or URL of the offending document
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unparseable source %q: %s", e.Source, e.Reason)
}

// MissingKeyError reports a record with no usable business key.
// Code-keyed record types are never stored under a generated identity.
type MissingKeyError struct {
	RecordType string // "entry", "program", "course", "academic-information"
	Index      int    // position within the input file
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%s record at index %d has no business key", e.RecordType, e.Index)
}

// DuplicateInBatchError reports a business key seen more than once within
// one ingestion batch. The first occurrence wins; later ones are skipped.
type DuplicateInBatchError struct {
	Key string
}

func (e *DuplicateInBatchError) Error() string {
	return fmt.Sprintf("duplicate key %q within batch", e.Key)
}

// StoreWriteError reports a failed write while committing a file's batch.
// It aborts the current file's transaction but not the run.
type StoreWriteError struct {
	Source string // logical file being committed
	Err    error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write for %q failed: %v", e.Source, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// EmbeddingError reports a failure from the embedding provider.
// Transient errors are retried with backoff; permanent errors deactivate
// the entry instead of retrying forever.
type EmbeddingError struct {
	Permanent bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s embedding provider error: %v", kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
