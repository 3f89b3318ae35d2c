package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression defines the block compression algorithm of a segment body.
type Compression uint8

const (
	// CompressionNone stores the body raw.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD Compression = 2
)

// String returns the configuration name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as used in configuration files.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// BlockSize is the uncompressed size of a body block.
const BlockSize = 256 * 1024

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize == 0 means the block is stored uncompressed.
const blockHeaderSize = 8

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(BlockSize))
	return dec
}

// compressBody splits data into blocks and compresses each of them.
func compressBody(data []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}

	var out bytes.Buffer
	for off := 0; off < len(data); off += BlockSize {
		end := min(off+BlockSize, len(data))
		if err := writeBlock(&out, data[off:end], c); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

func writeBlock(out *bytes.Buffer, block []byte, c Compression) error {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(block)))
		n, err := lz4.CompressBlock(block, dst, nil)
		if err != nil {
			return err
		}
		compressed = dst[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(block, nil)
		zstdEncoderPool.Put(enc)
	default:
		return fmt.Errorf("unknown compression %d", c)
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(block)))

	// Store raw when compression doesn't help (ratio > 0.9).
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(block))*0.9 {
		out.Write(hdr[:])
		out.Write(block)
		return nil
	}

	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
	out.Write(hdr[:])
	out.Write(compressed)
	return nil
}

// decompressBody reverses compressBody. size is the expected uncompressed size.
func decompressBody(data []byte, c Compression, size uint64) ([]byte, error) {
	if c == CompressionNone {
		if uint64(len(data)) != size {
			return nil, fmt.Errorf("%w: body size %d, want %d", ErrCorrupt, len(data), size)
		}
		return data, nil
	}

	result := make([]byte, 0, size)
	for off := 0; off < len(data); {
		if off+blockHeaderSize > len(data) {
			return nil, errors.New("block too small for header")
		}
		rawSize := int(binary.LittleEndian.Uint32(data[off:]))
		storedSize := int(binary.LittleEndian.Uint32(data[off+4:]))
		off += blockHeaderSize

		if rawSize > BlockSize || uint64(len(result)+rawSize) > size {
			return nil, fmt.Errorf("%w: block of %d bytes exceeds body size %d", ErrCorrupt, rawSize, size)
		}

		if storedSize == 0 {
			if off+rawSize > len(data) {
				return nil, errors.New("block extends beyond data")
			}
			result = append(result, data[off:off+rawSize]...)
			off += rawSize
			continue
		}

		if off+storedSize > len(data) {
			return nil, errors.New("compressed block extends beyond data")
		}
		block, err := decompressBlock(data[off:off+storedSize], c, rawSize)
		if err != nil {
			return nil, err
		}
		result = append(result, block...)
		off += storedSize
	}

	if uint64(len(result)) != size {
		return nil, fmt.Errorf("%w: body size %d, want %d", ErrCorrupt, len(result), size)
	}
	return result, nil
}

func decompressBlock(src []byte, c Compression, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return dst, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(src, dst[:0])
		if err != nil {
			return nil, err
		}
		if len(decoded) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}
