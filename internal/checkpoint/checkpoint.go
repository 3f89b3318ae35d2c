package checkpoint

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a collection has no checkpoint yet.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStale is returned when an advance would move a checkpoint backwards.
	ErrStale = errors.New("checkpoint lsn would regress")
)

// Checkpoint records the highest LSN of a collection whose buffered writes
// are durable. Write-ahead log entries at or below LSN can be truncated.
type Checkpoint struct {
	Collection string    `json:"collection"`
	LSN        uint64    `json:"lsn"`
	Segment    string    `json:"segment"`
	Segments   uint64    `json:"segments"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists per-collection checkpoints.
//
// Advance must be monotonic: it fails with ErrStale if the stored LSN is
// greater than cp.LSN. Advancing to the same LSN is allowed since several
// flushes may share one checkpoint LSN.
type Store interface {
	Load(ctx context.Context, collection string) (Checkpoint, error)
	Advance(ctx context.Context, cp Checkpoint) error
	List(ctx context.Context) ([]Checkpoint, error)
}
