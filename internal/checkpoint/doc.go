// Package checkpoint tracks, per collection, the LSN up to which flushed
// write buffers are durable.
//
// Two stores are provided. BlobStore keeps one JSON record per collection in
// a blobstore.BlobStore and serializes advances within the process.
// DynamoDBStore uses conditional writes so several processes can share a
// table without a checkpoint ever moving backwards.
package checkpoint
