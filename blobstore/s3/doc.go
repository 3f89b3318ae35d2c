// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("vectors/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	db, err := vecbuf.Open(ctx, vecbuf.WithBlobStore(store))
//
// # Features
//
//   - Multipart uploads for large segments
//   - CRC32C upload checksums
//   - Ranged reads
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
