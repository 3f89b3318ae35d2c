package segment

import (
	"encoding/binary"
	"errors"
)

const (
	MagicNumber = 0x56425331 // "VBS1"
	Version     = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrChecksum       = errors.New("segment checksum mismatch")
	ErrCorrupt        = errors.New("segment corrupt")
)

// FileHeader describes the layout of a segment file.
// It is stored at the beginning of the file.
type FileHeader struct {
	Magic         uint32
	Version       uint32
	CheckpointLSN uint64
	RowCount      uint32
	DeleteCount   uint32
	Dim           uint32
	Kind          uint8
	Compression   uint8
	_             [2]byte // Padding
	CollectionLen uint32
	BodySize      uint64 // Uncompressed body size
	Checksum      uint32 // CRC32C of the header without this field, then the stored body
	_             [16]byte
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 4 + 4 + 8 + 4 + 4 + 4 + 1 + 1 + 2 + 4 + 8 + 4 + 16

// checksumOffset is the position of the Checksum field in the encoded header.
const checksumOffset = 44

func (h *FileHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.CheckpointLSN)
	binary.LittleEndian.PutUint32(buf[16:], h.RowCount)
	binary.LittleEndian.PutUint32(buf[20:], h.DeleteCount)
	binary.LittleEndian.PutUint32(buf[24:], h.Dim)
	buf[28] = h.Kind
	buf[29] = h.Compression
	// Padding [30:32]
	binary.LittleEndian.PutUint32(buf[32:], h.CollectionLen)
	binary.LittleEndian.PutUint64(buf[36:], h.BodySize)
	binary.LittleEndian.PutUint32(buf[checksumOffset:], h.Checksum)
	return buf
}

func DecodeHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < HeaderSize {
		return nil, errors.New("buffer too small for header")
	}
	h := &FileHeader{}
	h.Magic = binary.LittleEndian.Uint32(buf[0:])
	if h.Magic != MagicNumber {
		return nil, ErrInvalidMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != Version {
		return nil, ErrInvalidVersion
	}
	h.CheckpointLSN = binary.LittleEndian.Uint64(buf[8:])
	h.RowCount = binary.LittleEndian.Uint32(buf[16:])
	h.DeleteCount = binary.LittleEndian.Uint32(buf[20:])
	h.Dim = binary.LittleEndian.Uint32(buf[24:])
	h.Kind = buf[28]
	h.Compression = buf[29]
	h.CollectionLen = binary.LittleEndian.Uint32(buf[32:])
	h.BodySize = binary.LittleEndian.Uint64(buf[36:])
	h.Checksum = binary.LittleEndian.Uint32(buf[checksumOffset:])
	return h, nil
}
