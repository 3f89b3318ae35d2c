// Package storage persists flushed write buffers.
//
// Sink implements the write-buffer sink: each buffer is encoded as a
// segment, written to a blobstore.BlobStore under
// "<collection>/<lsn>-<uuid>.seg", and the collection's checkpoint is
// advanced to the buffer's LSN once the write is durable.
package storage
