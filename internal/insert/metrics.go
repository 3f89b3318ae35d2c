package insert

import "time"

// MetricsObserver receives operational events from the Manager.
// Implementations must be safe for concurrent use and must not block.
type MetricsObserver interface {
	// OnInsert is called after each insert with the admitted row count.
	OnInsert(collection string, rows int, bytes int64, err error)

	// OnDelete is called after each delete call with the number of ids requested.
	OnDelete(collection string, ids int, err error)

	// OnFlush is called when a serialization pass over the immutable queue completes.
	OnFlush(duration time.Duration, buffers int, err error)

	// OnStall is called when an insert had to wait for memory.
	OnStall(duration time.Duration)

	// OnMemory reports the active and immutable footprint after a change.
	OnMemory(active, immutable int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnInsert(string, int, int64, error) {}
func (NoopMetricsObserver) OnDelete(string, int, error)        {}
func (NoopMetricsObserver) OnFlush(time.Duration, int, error)  {}
func (NoopMetricsObserver) OnStall(time.Duration)              {}
func (NoopMetricsObserver) OnMemory(active, immutable int64)   {}
