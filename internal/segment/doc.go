// Package segment encodes and decodes the immutable segments produced when a
// write buffer is serialized.
//
// A segment holds one buffer generation of one collection: the surviving rows
// in admission order, the residual deletes that matched no row of the buffer,
// and the checkpoint LSN the flush was tagged with.
//
// # File Layout
//
//	┌──────────────────────────────┐
//	│ Header (64 bytes)            │ magic, version, LSN, counts, checksum
//	├──────────────────────────────┤
//	│ Body (optionally compressed) │
//	│   collection name            │
//	│   IDs       [rows]uint64     │
//	│   vectors   rows*dim values  │
//	│   deletes   [deletes]uint64  │
//	└──────────────────────────────┘
//
// The body is stored either raw or as a sequence of LZ4/ZSTD blocks. The
// header checksum is CRC32-Castagnoli over the stored body bytes.
package segment
