package insert

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/model"
)

func TestSequentialIDGenerator(t *testing.T) {
	g := NewSequentialIDGenerator(100)

	assert.Equal(t, model.ID(100), g.Reserve(10))
	assert.Equal(t, model.ID(110), g.Reserve(1))
	assert.Equal(t, model.ID(111), g.Reserve(0))
	assert.Equal(t, model.ID(112), g.Reserve(5))
}

func TestTimeIDGenerator_Monotonic(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	g := &TimeIDGenerator{now: func() time.Time { return fixed }}

	first := g.Reserve(100)
	assert.Equal(t, model.ID(uint64(fixed.UnixMicro())<<idSeqBits), first)

	// The clock did not move: the next range starts after the previous one.
	second := g.Reserve(10)
	assert.Equal(t, first+100, second)
}

func TestTimeIDGenerator_ClockAdvance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := &TimeIDGenerator{now: func() time.Time { return now }}

	first := g.Reserve(1)
	now = now.Add(time.Second)
	second := g.Reserve(1)

	assert.Equal(t, model.ID(uint64(now.UnixMicro())<<idSeqBits), second)
	assert.Greater(t, second, first)
}

func TestTimeIDGenerator_ConcurrentDisjoint(t *testing.T) {
	g := NewTimeIDGenerator()

	const (
		workers = 8
		perW    = 200
		batch   = 5
	)

	var (
		mu   sync.Mutex
		seen = make(map[model.ID]struct{}, workers*perW*batch)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perW {
				first := g.Reserve(batch)
				mu.Lock()
				for i := range batch {
					seen[first+model.ID(i)] = struct{}{}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perW*batch)
}
