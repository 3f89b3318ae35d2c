package insert

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecbuf/model"
)

// IDGenerator hands out ranges of identifiers for batches inserted without
// caller-supplied ids. Implementations must be safe for concurrent use and
// never return overlapping ranges.
type IDGenerator interface {
	// Reserve reserves n consecutive identifiers and returns the first.
	Reserve(n int) model.ID
}

// idSeqBits is the room left below the microsecond timestamp for bursts.
const idSeqBits = 12

// TimeIDGenerator generates identifiers from the wall clock.
//
// An id is the current Unix time in microseconds shifted left by 12 bits.
// When the clock has not advanced far enough, ids continue after the last
// reserved one, so ranges are strictly increasing within a process and do not
// collide with ids from earlier runs.
type TimeIDGenerator struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewTimeIDGenerator creates a new TimeIDGenerator.
func NewTimeIDGenerator() *TimeIDGenerator {
	return &TimeIDGenerator{now: time.Now}
}

// Reserve implements IDGenerator.
func (g *TimeIDGenerator) Reserve(n int) model.ID {
	if n <= 0 {
		n = 1
	}
	for {
		last := g.last.Load()
		first := max(uint64(g.now().UnixMicro())<<idSeqBits, last+1)
		if g.last.CompareAndSwap(last, first+uint64(n)-1) {
			return model.ID(first)
		}
	}
}

// SequentialIDGenerator generates identifiers from a counter.
type SequentialIDGenerator struct {
	next atomic.Uint64
}

// NewSequentialIDGenerator creates a generator whose first id is start.
func NewSequentialIDGenerator(start uint64) *SequentialIDGenerator {
	g := &SequentialIDGenerator{}
	g.next.Store(start)
	return g
}

// Reserve implements IDGenerator.
func (g *SequentialIDGenerator) Reserve(n int) model.ID {
	if n <= 0 {
		n = 1
	}
	return model.ID(g.next.Add(uint64(n)) - uint64(n))
}
