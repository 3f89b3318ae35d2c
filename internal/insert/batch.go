package insert

import (
	"fmt"
	"slices"

	"github.com/hupe1980/vecbuf/model"
)

// VectorBatch wraps a caller-supplied batch of vectors.
//
// Until admission the batch reads the caller's Vectors. On admission the
// identifiers and payload are copied, and the batch no longer refers to the
// caller's request. The only mutation of the request is writing generated
// identifiers back into it.
type VectorBatch struct {
	v *model.Vectors
}

func newVectorBatch(v *model.Vectors) *VectorBatch {
	return &VectorBatch{v: v}
}

// IDs returns the identifiers assigned at admission time.
// Before admission it returns the caller-supplied identifiers, if any.
func (b *VectorBatch) IDs() []model.ID {
	return b.v.IDs
}

// Count returns the number of vectors in the batch.
func (b *VectorBatch) Count() int {
	return b.v.Count
}

// Kind returns the vector kind of the payload.
func (b *VectorBatch) Kind() model.VectorKind {
	return b.v.Kind()
}

// Dimension returns float32 values per vector, or bytes per vector for
// binary payloads.
func (b *VectorBatch) Dimension() int {
	if b.v.Count == 0 {
		return 0
	}
	switch b.v.Kind() {
	case model.KindFloat32:
		return len(b.v.Float) / b.v.Count
	case model.KindBinary:
		return len(b.v.Binary) / b.v.Count
	default:
		return 0
	}
}

// Size returns the in-memory footprint of the batch in bytes.
func (b *VectorBatch) Size() int64 {
	return int64(4*len(b.v.Float)+len(b.v.Binary)) + 8*int64(b.v.Count)
}

// hasIDs reports whether the caller supplied identifiers.
func (b *VectorBatch) hasIDs() bool {
	return len(b.v.IDs) > 0
}

func (b *VectorBatch) validate() error {
	v := b.v
	if v == nil {
		return fmt.Errorf("%w: nil vectors", ErrInvalidBatch)
	}
	if v.Count <= 0 {
		return fmt.Errorf("%w: vector count %d", ErrInvalidBatch, v.Count)
	}
	if len(v.Float) > 0 && len(v.Binary) > 0 {
		return fmt.Errorf("%w: both float and binary payload set", ErrInvalidBatch)
	}

	var n int
	switch v.Kind() {
	case model.KindFloat32:
		n = len(v.Float)
	case model.KindBinary:
		n = len(v.Binary)
	default:
		return fmt.Errorf("%w: empty payload", ErrInvalidBatch)
	}
	if n%v.Count != 0 {
		return fmt.Errorf("%w: payload length %d not divisible by count %d", ErrInvalidBatch, n, v.Count)
	}

	if len(v.IDs) != 0 && len(v.IDs) != v.Count {
		return fmt.Errorf("%w: %d ids for %d vectors", ErrInvalidBatch, len(v.IDs), v.Count)
	}
	return nil
}

// assignIDs writes Count consecutive identifiers starting at first into the
// caller's request.
func (b *VectorBatch) assignIDs(first model.ID) {
	ids := make([]model.ID, b.v.Count)
	for i := range ids {
		ids[i] = first + model.ID(i)
	}
	b.v.IDs = ids
}

// detach replaces the caller's request with a private copy, so later edits
// to the request do not reach buffered data.
func (b *VectorBatch) detach() {
	b.v = &model.Vectors{
		Count:  b.v.Count,
		IDs:    slices.Clone(b.v.IDs),
		Float:  slices.Clone(b.v.Float),
		Binary: slices.Clone(b.v.Binary),
	}
}
