package insert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecbuf/internal/segment"
	"github.com/hupe1980/vecbuf/model"
)

// Sink persists serialized write buffers.
//
// WriteSegment must tag the persisted data with seg.CheckpointLSN so the
// write-ahead log can be truncated up to it once the call succeeds.
type Sink interface {
	WriteSegment(ctx context.Context, seg *segment.Segment) error
}

type bufferState uint8

const (
	stateActive bufferState = iota
	stateSealed
	stateDiscarded
)

// WriteBuffer accumulates the inserts and deletes of one collection.
//
// A buffer accepts writes while it is active. Cutover seals it; a sealed
// buffer can only be serialized, after which it is discarded for good.
// Deletes are recorded as tombstones and applied when the buffer is
// serialized; they never shrink the memory footprint.
type WriteBuffer struct {
	collection string
	ids        IDGenerator
	sink       Sink

	mu         sync.Mutex
	state      bufferState
	batches    []*VectorBatch
	kind       model.VectorKind
	dim        int
	rows       int
	tombstones *roaring64.Bitmap

	memory atomic.Int64
}

// NewWriteBuffer creates an empty active buffer for collection.
func NewWriteBuffer(collection string, ids IDGenerator, sink Sink) *WriteBuffer {
	return &WriteBuffer{
		collection: collection,
		ids:        ids,
		sink:       sink,
		tombstones: roaring64.New(),
	}
}

// Collection returns the collection the buffer belongs to.
func (b *WriteBuffer) Collection() string {
	return b.collection
}

// Add admits a batch.
//
// If the caller supplied no identifiers, fresh ones are generated and
// written back into the caller's Vectors. The buffer keeps its own copy of
// the identifiers and payload.
func (b *WriteBuffer) Add(batch *VectorBatch) error {
	if err := batch.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writableLocked(); err != nil {
		return err
	}

	kind, dim := batch.Kind(), batch.Dimension()
	if len(b.batches) > 0 && (kind != b.kind || dim != b.dim) {
		return fmt.Errorf("%w: collection %q holds %s vectors of dim %d, got %s of dim %d",
			ErrInvalidBatch, b.collection, b.kind, b.dim, kind, dim)
	}

	if !batch.hasIDs() {
		batch.assignIDs(b.ids.Reserve(batch.Count()))
	}
	batch.detach()

	b.kind, b.dim = kind, dim
	b.batches = append(b.batches, batch)
	b.rows += batch.Count()
	b.memory.Add(batch.Size())
	return nil
}

// Delete tombstones id. Deleting an id twice, or one that was never
// inserted, is not an error.
func (b *WriteBuffer) Delete(id model.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writableLocked(); err != nil {
		return err
	}
	b.tombstones.Add(uint64(id))
	return nil
}

// DeleteMany tombstones ids one at a time. It stops at the first failure and
// returns a *PartialDeleteError; ids before the failing one stay deleted.
func (b *WriteBuffer) DeleteMany(ctx context.Context, ids []model.ID) error {
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return &PartialDeleteError{Applied: i, Total: len(ids), Err: err}
		}
		if err := b.Delete(id); err != nil {
			return &PartialDeleteError{Applied: i, Total: len(ids), Err: err}
		}
	}
	return nil
}

// CurrentMemory returns the footprint of the admitted payloads in bytes.
func (b *WriteBuffer) CurrentMemory() int64 {
	return b.memory.Load()
}

// IsEmpty reports whether no batch has ever been admitted.
func (b *WriteBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches) == 0
}

// RowCount returns the number of admitted rows, including deleted ones.
func (b *WriteBuffer) RowCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows
}

// Tombstones returns the number of distinct tombstoned ids.
func (b *WriteBuffer) Tombstones() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tombstones == nil {
		return 0
	}
	return int(b.tombstones.GetCardinality())
}

// seal stops the buffer from accepting writes.
func (b *WriteBuffer) seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateActive {
		b.state = stateSealed
	}
}

// discard releases the buffer's contents. It is idempotent.
func (b *WriteBuffer) discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discardLocked()
}

func (b *WriteBuffer) discardLocked() {
	b.state = stateDiscarded
	b.batches = nil
	b.tombstones = nil
}

func (b *WriteBuffer) writableLocked() error {
	switch b.state {
	case stateSealed:
		return ErrSealed
	case stateDiscarded:
		return ErrDiscarded
	default:
		return nil
	}
}

// Serialize writes the surviving rows to the sink tagged with checkpointLSN.
//
// The buffer must have been sealed by a cutover. It is discarded whether or
// not the write succeeds.
func (b *WriteBuffer) Serialize(ctx context.Context, checkpointLSN uint64) error {
	seg, err := b.buildSegment(checkpointLSN)
	if err != nil {
		return err
	}
	if seg.Empty() {
		return nil
	}

	if err := b.sink.WriteSegment(ctx, seg); err != nil {
		return &SerializationError{Collection: b.collection, LSN: checkpointLSN, Err: err}
	}
	return nil
}

func (b *WriteBuffer) buildSegment(checkpointLSN uint64) (*segment.Segment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateActive:
		return nil, ErrNotSealed
	case stateDiscarded:
		return nil, ErrDiscarded
	}
	defer b.discardLocked()

	seg := &segment.Segment{
		Collection:    b.collection,
		CheckpointLSN: checkpointLSN,
		Kind:          b.kind,
		Dim:           b.dim,
		IDs:           make([]model.ID, 0, b.rows),
	}
	switch b.kind {
	case model.KindFloat32:
		seg.Float = make([]float32, 0, b.rows*b.dim)
	case model.KindBinary:
		seg.Binary = make([]byte, 0, b.rows*b.dim)
	}

	matched := roaring64.New()
	for _, batch := range b.batches {
		v := batch.v
		for i, id := range v.IDs {
			if b.tombstones.Contains(uint64(id)) {
				matched.Add(uint64(id))
				continue
			}
			seg.IDs = append(seg.IDs, id)
			switch b.kind {
			case model.KindFloat32:
				seg.Float = append(seg.Float, v.Float[i*b.dim:(i+1)*b.dim]...)
			case model.KindBinary:
				seg.Binary = append(seg.Binary, v.Binary[i*b.dim:(i+1)*b.dim]...)
			}
		}
	}

	residual := roaring64.AndNot(b.tombstones, matched)
	if !residual.IsEmpty() {
		seg.Deletes = make([]model.ID, 0, residual.GetCardinality())
		it := residual.Iterator()
		for it.HasNext() {
			seg.Deletes = append(seg.Deletes, model.ID(it.Next()))
		}
	}

	return seg, nil
}
