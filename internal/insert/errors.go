package insert

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a flush targets a collection without an active buffer.
	ErrNotFound = errors.New("collection not found")

	// ErrInvalidBatch is returned when a batch is malformed (identifier count
	// mismatch, empty payload, inconsistent dimension).
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrSealed is returned when a write reaches a buffer that has been cut over.
	ErrSealed = errors.New("write buffer sealed")

	// ErrNotSealed is returned when serializing a buffer that still accepts writes.
	ErrNotSealed = errors.New("write buffer not sealed")

	// ErrDiscarded is returned when a buffer is used after serialization or drop.
	ErrDiscarded = errors.New("write buffer discarded")

	// ErrBackpressure is returned when an insert gives up waiting for memory.
	ErrBackpressure = errors.New("backpressure: insert buffer full")

	// ErrSerialization is matched by every *SerializationError.
	ErrSerialization = errors.New("serialization failed")

	// ErrPartialDelete is matched by every *PartialDeleteError.
	ErrPartialDelete = errors.New("partial delete")
)

// SerializationError reports a durable-write failure for one buffer.
//
// The buffer is gone once this error is returned; its contents must be
// recovered from the write-ahead log starting after the last successful
// checkpoint of the collection.
type SerializationError struct {
	Collection string
	LSN        uint64
	Err        error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize collection %q at lsn %d: %v", e.Collection, e.LSN, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is reports ErrSerialization equivalence.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// PartialDeleteError reports that a multi-delete stopped early.
// The first Applied identifiers were tombstoned and remain so.
type PartialDeleteError struct {
	Applied int
	Total   int
	Err     error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("delete applied to %d of %d ids: %v", e.Applied, e.Total, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

// Is reports ErrPartialDelete equivalence.
func (e *PartialDeleteError) Is(target error) bool { return target == ErrPartialDelete }
