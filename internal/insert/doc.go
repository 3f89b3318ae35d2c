// Package insert implements the write-buffering layer.
//
// Inserts and deletes for a collection accumulate in an active WriteBuffer
// owned by the Manager. A flush cuts the active buffer over into the
// immutable queue and serializes the whole queue into a Sink, tagged with the
// checkpoint LSN supplied by the caller. The Manager enforces a global memory
// budget by making inserts wait while the buffered footprint exceeds it.
//
// The Manager never flushes on its own. Callers decide when to flush,
// typically from a write-ahead log checkpoint loop.
package insert
