// Package fs provides the filesystem abstraction used by the local segment
// store, plus a fault-injecting wrapper for tests.
//
// [LocalFS] is the production implementation. [FaultyFS] wraps any
// [FileSystem] and fails writes, syncs or renames on demand so durability
// paths can be tested without a broken disk.
//
// [WriteFileAtomic] is how segment and checkpoint files reach disk: data goes
// to a temporary file that is synced and renamed into place, and the rename
// is made durable by syncing the parent directory.
//
// Operations take no context.Context. Local filesystem calls are not
// interruptible at the syscall level; slow remote stores go through the
// blobstore package instead.
package fs
