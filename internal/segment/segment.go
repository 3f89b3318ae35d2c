package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"math/bits"

	"github.com/hupe1980/vecbuf/model"
)

// crc32cTable is pre-computed for the CRC32-Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Segment is the serialized form of one write buffer generation.
type Segment struct {
	Collection    string
	CheckpointLSN uint64
	Kind          model.VectorKind
	// Dim is float32 values per vector for KindFloat32 and bytes per vector
	// for KindBinary.
	Dim    int
	IDs    []model.ID
	Float  []float32
	Binary []byte
	// Deletes are tombstones that matched no row of the buffer. They target
	// rows in previously persisted segments.
	Deletes []model.ID
}

// RowCount returns the number of rows in the segment.
func (s *Segment) RowCount() int {
	return len(s.IDs)
}

// Empty reports whether the segment carries neither rows nor deletes.
func (s *Segment) Empty() bool {
	return len(s.IDs) == 0 && len(s.Deletes) == 0
}

func (s *Segment) validate() error {
	rows := len(s.IDs)
	switch s.Kind {
	case model.KindFloat32:
		if len(s.Float) != rows*s.Dim {
			return fmt.Errorf("%w: %d float values for %d rows of dim %d", ErrCorrupt, len(s.Float), rows, s.Dim)
		}
	case model.KindBinary:
		if len(s.Binary) != rows*s.Dim {
			return fmt.Errorf("%w: %d bytes for %d rows of dim %d", ErrCorrupt, len(s.Binary), rows, s.Dim)
		}
	case 0:
		if rows != 0 {
			return fmt.Errorf("%w: %d rows without vector kind", ErrCorrupt, rows)
		}
	default:
		return fmt.Errorf("%w: unknown vector kind %d", ErrCorrupt, s.Kind)
	}
	return nil
}

func (s *Segment) bodySize() int {
	n := len(s.Collection) + 8*len(s.IDs) + 8*len(s.Deletes)
	switch s.Kind {
	case model.KindFloat32:
		n += 4 * len(s.Float)
	case model.KindBinary:
		n += len(s.Binary)
	}
	return n
}

// SizeHint returns the uncompressed encoded size of the segment in bytes.
func (s *Segment) SizeHint() int64 {
	return int64(HeaderSize + s.bodySize())
}

// Encode writes the segment to w and returns the number of bytes written.
func Encode(w io.Writer, s *Segment, c Compression) (int64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}

	body := make([]byte, s.bodySize())
	off := copy(body, s.Collection)
	for _, id := range s.IDs {
		binary.LittleEndian.PutUint64(body[off:], uint64(id))
		off += 8
	}
	switch s.Kind {
	case model.KindFloat32:
		for _, f := range s.Float {
			binary.LittleEndian.PutUint32(body[off:], math.Float32bits(f))
			off += 4
		}
	case model.KindBinary:
		off += copy(body[off:], s.Binary)
	}
	for _, id := range s.Deletes {
		binary.LittleEndian.PutUint64(body[off:], uint64(id))
		off += 8
	}

	stored, err := compressBody(body, c)
	if err != nil {
		return 0, err
	}

	h := FileHeader{
		Magic:         MagicNumber,
		Version:       Version,
		CheckpointLSN: s.CheckpointLSN,
		RowCount:      uint32(len(s.IDs)),
		DeleteCount:   uint32(len(s.Deletes)),
		Dim:           uint32(s.Dim),
		Kind:          uint8(s.Kind),
		Compression:   uint8(c),
		CollectionLen: uint32(len(s.Collection)),
		BodySize:      uint64(len(body)),
	}
	hdr := h.Encode()
	binary.LittleEndian.PutUint32(hdr[checksumOffset:], checksum(hdr, stored))

	n, err := w.Write(hdr)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(stored)
	return int64(n + m), err
}

// Decode parses a segment previously written by Encode.
func Decode(data []byte) (*Segment, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	stored := data[HeaderSize:]
	if checksum(data[:HeaderSize], stored) != h.Checksum {
		return nil, ErrChecksum
	}

	if err := checkLayout(h, len(stored)); err != nil {
		return nil, err
	}

	body, err := decompressBody(stored, Compression(h.Compression), h.BodySize)
	if err != nil {
		return nil, err
	}

	s := &Segment{
		CheckpointLSN: h.CheckpointLSN,
		Kind:          model.VectorKind(h.Kind),
		Dim:           int(h.Dim),
	}

	rows := int(h.RowCount)
	var vecBytes int
	switch s.Kind {
	case model.KindFloat32:
		vecBytes = 4 * rows * s.Dim
	case model.KindBinary:
		vecBytes = rows * s.Dim
	}

	off := int(h.CollectionLen)
	s.Collection = string(body[:off])

	s.IDs = make([]model.ID, rows)
	for i := range s.IDs {
		s.IDs[i] = model.ID(binary.LittleEndian.Uint64(body[off:]))
		off += 8
	}

	switch s.Kind {
	case model.KindFloat32:
		s.Float = make([]float32, rows*s.Dim)
		for i := range s.Float {
			s.Float[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
	case model.KindBinary:
		s.Binary = make([]byte, vecBytes)
		off += copy(s.Binary, body[off:off+vecBytes])
	}

	if h.DeleteCount > 0 {
		s.Deletes = make([]model.ID, h.DeleteCount)
		for i := range s.Deletes {
			s.Deletes[i] = model.ID(binary.LittleEndian.Uint64(body[off:]))
			off += 8
		}
	}

	return s, nil
}

// checksum returns the CRC32C of an encoded header, skipping its checksum
// field, followed by the stored body.
func checksum(hdr, stored []byte) uint32 {
	crc := crc32.Update(0, crc32cTable, hdr[:checksumOffset])
	crc = crc32.Update(crc, crc32cTable, hdr[checksumOffset+4:HeaderSize])
	return crc32.Update(crc, crc32cTable, stored)
}

// checkLayout verifies that the header fields describe exactly BodySize
// bytes and that a stored body of storedLen bytes can expand to BodySize.
func checkLayout(h *FileHeader, storedLen int) error {
	var elem uint64
	switch model.VectorKind(h.Kind) {
	case model.KindFloat32:
		elem = 4
	case model.KindBinary:
		elem = 1
	case 0:
		if h.RowCount != 0 {
			return fmt.Errorf("%w: %d rows without vector kind", ErrCorrupt, h.RowCount)
		}
	default:
		return fmt.Errorf("%w: unknown vector kind %d", ErrCorrupt, h.Kind)
	}

	// RowCount and Dim are 32 bit, so only the element width can overflow.
	hi, vecBytes := bits.Mul64(uint64(h.RowCount)*uint64(h.Dim), elem)
	if hi != 0 {
		return fmt.Errorf("%w: %d rows of dim %d overflow", ErrCorrupt, h.RowCount, h.Dim)
	}
	fixed := uint64(h.CollectionLen) + 8*uint64(h.RowCount) + 8*uint64(h.DeleteCount)
	want, carry := bits.Add64(fixed, vecBytes, 0)
	if carry != 0 || want != h.BodySize {
		return fmt.Errorf("%w: body size %d does not match %d rows of dim %d", ErrCorrupt, h.BodySize, h.RowCount, h.Dim)
	}

	limit := uint64(storedLen)
	if Compression(h.Compression) != CompressionNone {
		limit = uint64(storedLen/blockHeaderSize) * BlockSize
	}
	if h.BodySize > limit {
		return fmt.Errorf("%w: body size %d exceeds %d stored bytes", ErrCorrupt, h.BodySize, storedLen)
	}
	return nil
}
