// Package blobstore provides the durable storage abstraction that flushed
// write buffers are persisted into.
//
// BlobStore is the interface for writing and reading immutable blobs
// (serialized segments and checkpoint records). Implementations must be safe
// for concurrent use and Put must be atomic.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic via temp file, fdatasync and rename
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with multipart uploads
//   - minio.Store: MinIO and other S3-compatible stores
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
