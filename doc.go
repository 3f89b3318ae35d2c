// Package vecbuf buffers vector writes in memory and turns them into durable
// segments.
//
// Inserts and deletes are accumulated per collection in a write buffer. A
// global memory budget bounds the buffered data; inserts wait while the
// budget is exceeded. A flush cuts the active buffer of a collection over to
// an immutable queue and serializes the queue to a blob store, recording a
// per-collection checkpoint LSN after each segment.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := vecbuf.Open(ctx,
//	    vecbuf.WithBlobStore(blobstore.NewLocalStore("./data")),
//	    vecbuf.WithBufferSize(256<<20),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	v := &vecbuf.Vectors{Count: 2, Float: []float32{1, 2, 3, 4, 5, 6}}
//	ids, err := db.Insert(ctx, "docs", v)
//
//	// Later, once the write-ahead log is durable up to lsn:
//	err = db.Flush(ctx, "docs", lsn)
//
// # Durability
//
// Buffered writes are not durable until a flush serializes them. The caller
// owns the write-ahead log and passes the LSN that a flush covers; after a
// successful flush, Checkpoint reports that LSN and log entries at or below it
// can be truncated. A flush that fails reports a *SerializationError and the
// affected writes must be replayed from the log.
//
// # Automatic flushing
//
// WithAutoFlush starts a background loop that calls FlushAll on a fixed
// interval using an LSNSource. Close stops the loop and runs a final FlushAll.
//
// # Storage backends
//
//   - blobstore.LocalStore: files on local disk, atomic rename
//   - blobstore.MemoryStore: tests and ephemeral use
//   - blobstore/s3: Amazon S3
//   - blobstore/minio: MinIO and other S3-compatible services
package vecbuf
