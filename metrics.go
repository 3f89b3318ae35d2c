package vecbuf

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecbuf/internal/insert"
)

// MetricsObserver receives operational events from the buffer manager.
// Implement this interface to integrate with monitoring systems like Prometheus.
// Implementations must be safe for concurrent use and must not block.
type MetricsObserver = insert.MetricsObserver

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver = insert.NoopMetricsObserver

// BasicMetricsObserver provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsObserver struct {
	InsertCount     atomic.Int64
	InsertRows      atomic.Int64
	InsertBytes     atomic.Int64
	InsertErrors    atomic.Int64
	DeleteCount     atomic.Int64
	DeleteIDs       atomic.Int64
	DeleteErrors    atomic.Int64
	FlushCount      atomic.Int64
	FlushBuffers    atomic.Int64
	FlushErrors     atomic.Int64
	FlushTotalNanos atomic.Int64
	StallCount      atomic.Int64
	StallTotalNanos atomic.Int64
	ActiveBytes     atomic.Int64
	ImmutableBytes  atomic.Int64
}

// OnInsert implements MetricsObserver.
func (b *BasicMetricsObserver) OnInsert(_ string, rows int, bytes int64, err error) {
	b.InsertCount.Add(1)
	if err != nil {
		b.InsertErrors.Add(1)
		return
	}
	b.InsertRows.Add(int64(rows))
	b.InsertBytes.Add(bytes)
}

// OnDelete implements MetricsObserver.
func (b *BasicMetricsObserver) OnDelete(_ string, ids int, err error) {
	b.DeleteCount.Add(1)
	b.DeleteIDs.Add(int64(ids))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// OnFlush implements MetricsObserver.
func (b *BasicMetricsObserver) OnFlush(duration time.Duration, buffers int, err error) {
	b.FlushCount.Add(1)
	b.FlushBuffers.Add(int64(buffers))
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// OnStall implements MetricsObserver.
func (b *BasicMetricsObserver) OnStall(duration time.Duration) {
	b.StallCount.Add(1)
	b.StallTotalNanos.Add(duration.Nanoseconds())
}

// OnMemory implements MetricsObserver.
func (b *BasicMetricsObserver) OnMemory(active, immutable int64) {
	b.ActiveBytes.Store(active)
	b.ImmutableBytes.Store(immutable)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertRows:     b.InsertRows.Load(),
		InsertBytes:    b.InsertBytes.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteIDs:      b.DeleteIDs.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		FlushCount:     b.FlushCount.Load(),
		FlushBuffers:   b.FlushBuffers.Load(),
		FlushErrors:    b.FlushErrors.Load(),
		FlushAvgNanos:  avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		StallCount:     b.StallCount.Load(),
		StallAvgNanos:  avg(b.StallTotalNanos.Load(), b.StallCount.Load()),
		ActiveBytes:    b.ActiveBytes.Load(),
		ImmutableBytes: b.ImmutableBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertRows     int64
	InsertBytes    int64
	InsertErrors   int64
	DeleteCount    int64
	DeleteIDs      int64
	DeleteErrors   int64
	FlushCount     int64
	FlushBuffers   int64
	FlushErrors    int64
	FlushAvgNanos  int64
	StallCount     int64
	StallAvgNanos  int64
	ActiveBytes    int64
	ImmutableBytes int64
}

// loggingObserver forwards to the configured observer and logs stalls.
type loggingObserver struct {
	MetricsObserver
	logger *Logger
}

func (o loggingObserver) OnStall(duration time.Duration) {
	o.logger.LogStall(context.Background(), duration)
	o.MetricsObserver.OnStall(duration)
}
