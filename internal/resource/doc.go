// Package resource implements the Controller that bounds background work.
//
// Serializing write buffers is the only I/O-heavy part of the write path. The
// Controller limits three things while it runs:
//
//   - Concurrency: how many collections are serialized in parallel
//   - Memory: scratch memory used to encode segments (blocking acquire)
//   - IO: bytes per second handed to the durable store (token bucket)
//
// # Usage
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 4,
//	    MemoryLimitBytes:     256 << 20,
//	    IOLimitBytesPerSec:   100 << 20,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
