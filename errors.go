package vecbuf

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecbuf/internal/checkpoint"
	"github.com/hupe1980/vecbuf/internal/insert"
)

var (
	// ErrNotFound is returned when a flush targets a collection without
	// buffered writes, or a checkpoint is requested for an unknown collection.
	ErrNotFound = errors.New("not found")

	// ErrInvalidBatch indicates a malformed insert request.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrBackpressure is returned when an insert gives up waiting for memory.
	ErrBackpressure = errors.New("backpressure")

	// ErrSerialization is matched by errors of flushes that could not write
	// every buffer.
	ErrSerialization = errors.New("serialization failed")

	// ErrPartialDelete is returned when DeleteMany stopped early.
	ErrPartialDelete = errors.New("partial delete")

	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("vecbuf: closed")
)

// SerializationError reports a durable-write failure for one buffer.
// The writes it held must be replayed from the write-ahead log.
type SerializationError = insert.SerializationError

// PartialDeleteError reports how many identifiers DeleteMany tombstoned
// before it stopped.
type PartialDeleteError = insert.PartialDeleteError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, insert.ErrNotFound), errors.Is(err, checkpoint.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, insert.ErrInvalidBatch):
		return fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	case errors.Is(err, insert.ErrBackpressure):
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	case errors.Is(err, insert.ErrSerialization):
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	case errors.Is(err, insert.ErrPartialDelete):
		return fmt.Errorf("%w: %w", ErrPartialDelete, err)
	}

	return err
}
