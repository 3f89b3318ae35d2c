package model

import "fmt"

// ID is the user-facing stable identifier of a vector.
// Once assigned it never changes and is what deletes reference.
type ID uint64

// VectorKind distinguishes float32 from packed binary vectors.
type VectorKind uint8

const (
	// KindFloat32 vectors are stored as little-endian float32 values.
	KindFloat32 VectorKind = 1
	// KindBinary vectors are stored as packed bytes.
	KindBinary VectorKind = 2
)

// String returns a string representation of the VectorKind.
func (k VectorKind) String() string {
	switch k {
	case KindFloat32:
		return "float32"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("VectorKind(%d)", uint8(k))
	}
}

// Vectors is the caller's insert request payload.
//
// Exactly one of Float and Binary is set. Float holds Count*dim values,
// Binary holds Count*bytesPerVector bytes. IDs is either empty, in which case
// identifiers are generated on insert and written back here, or has exactly
// Count entries that are used verbatim.
type Vectors struct {
	Count  int
	Float  []float32
	Binary []byte
	IDs    []ID
}

// Kind returns the kind of vectors carried by the request.
// It returns 0 when no payload is set.
func (v *Vectors) Kind() VectorKind {
	switch {
	case len(v.Float) > 0:
		return KindFloat32
	case len(v.Binary) > 0:
		return KindBinary
	default:
		return 0
	}
}
