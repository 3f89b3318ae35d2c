package insert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/internal/resource"
	"github.com/hupe1980/vecbuf/model"
)

func newTestManager(sink Sink, opts ...Option) *Manager {
	opts = append([]Option{WithIDGenerator(NewSequentialIDGenerator(1))}, opts...)
	return NewManager(sink, opts...)
}

func TestManager_InsertHundredVectors(t *testing.T) {
	m := newTestManager(&recordingSink{})

	ids, err := m.Insert(t.Context(), "T", floatVectors(100, 8))
	require.NoError(t, err)
	require.Len(t, ids, 100)

	seen := make(map[model.ID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)

	assert.Equal(t, []string{"T"}, m.Collections())
	assert.Greater(t, m.TotalMemory(), int64(0))

	stats := m.Stats()
	assert.Equal(t, 1, stats.ActiveBuffers)
	assert.Equal(t, int64(100*8*4+100*8), stats.ActiveBytes)
	assert.Equal(t, int64(DefaultBufferSize), stats.BufferSizeBytes)
}

func TestManager_InsertInvalidBatch(t *testing.T) {
	m := newTestManager(&recordingSink{})

	_, err := m.Insert(t.Context(), "T", &model.Vectors{Count: 2, Float: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.Zero(t, m.TotalMemory())
}

func TestManager_OneActiveBufferPerCollection(t *testing.T) {
	m := newTestManager(&recordingSink{})

	for range 3 {
		_, err := m.Insert(t.Context(), "A", floatVectors(2, 2))
		require.NoError(t, err)
		_, err = m.Insert(t.Context(), "B", floatVectors(2, 2))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"A", "B"}, m.Collections())
	assert.Equal(t, 2, m.Stats().ActiveBuffers)
}

func TestManager_FlushTagsLSN(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	_, err := m.Insert(t.Context(), "T", floatVectors(10, 4))
	require.NoError(t, err)

	require.NoError(t, m.Flush(t.Context(), "T", 5))

	segs := sink.byCollection("T")
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(5), segs[0].CheckpointLSN)
	assert.Equal(t, 10, segs[0].RowCount())

	assert.Empty(t, m.Collections())
	assert.Zero(t, m.TotalMemory())
	assert.Zero(t, m.Stats().QueuedBuffers)
}

func TestManager_InsertedDataIsolatedFromRequest(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	v := &model.Vectors{Count: 2, Float: []float32{1, 1, 2, 2}}
	ids, err := m.Insert(t.Context(), "T", v)
	require.NoError(t, err)
	require.Equal(t, []model.ID{1, 2}, ids)

	for i := range v.Float {
		v.Float[i] = 9
	}
	v.IDs[0] = 100

	shrunk := &model.Vectors{Count: 2, Float: []float32{3, 3, 4, 4}}
	_, err = m.Insert(t.Context(), "T", shrunk)
	require.NoError(t, err)
	shrunk.Float = []float32{1, 1}

	require.NotPanics(t, func() {
		require.NoError(t, m.Flush(t.Context(), "T", 1))
	})

	segs := sink.byCollection("T")
	require.Len(t, segs, 1)
	assert.Equal(t, []model.ID{1, 2, 3, 4}, segs[0].IDs)
	assert.Equal(t, []float32{1, 1, 2, 2, 3, 3, 4, 4}, segs[0].Float)
}

func TestManager_FlushUnknownCollection(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	_, err := m.Insert(t.Context(), "A", floatVectors(1, 2))
	require.NoError(t, err)
	before := m.Stats()

	err = m.Flush(t.Context(), "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `"missing"`)

	assert.Equal(t, before, m.Stats())
	assert.Empty(t, sink.written())
}

func TestManager_FlushAllCutoverCompleteness(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	for _, name := range []string{"C", "A", "B"} {
		_, err := m.Insert(t.Context(), name, floatVectors(3, 2))
		require.NoError(t, err)
	}

	flushed, err := m.FlushAll(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, flushed)

	for _, name := range flushed {
		segs := sink.byCollection(name)
		require.Len(t, segs, 1, name)
		assert.Equal(t, uint64(7), segs[0].CheckpointLSN)
	}

	assert.Empty(t, m.Collections())
	assert.Zero(t, m.TotalMemory())

	// Nothing left: a second pass is a no-op.
	flushed, err = m.FlushAll(t.Context(), 8)
	require.NoError(t, err)
	assert.Empty(t, flushed)
	assert.Len(t, sink.written(), 3)
}

func TestManager_FlushAllLeavesDeleteOnlyBuffers(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	require.NoError(t, m.Delete("D", 42))
	_, err := m.Insert(t.Context(), "T", floatVectors(1, 2))
	require.NoError(t, err)

	flushed, err := m.FlushAll(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"T"}, flushed)
	assert.Equal(t, []string{"D"}, m.Collections())

	// An explicit flush writes the tombstones out.
	require.NoError(t, m.Flush(t.Context(), "D", 2))
	segs := sink.byCollection("D")
	require.Len(t, segs, 1)
	assert.Empty(t, segs[0].IDs)
	assert.Equal(t, []model.ID{42}, segs[0].Deletes)
}

func TestManager_DeleteAppliedAtFlush(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	ids, err := m.Insert(t.Context(), "T", floatVectors(3, 2))
	require.NoError(t, err)

	mem := m.TotalMemory()
	require.NoError(t, m.Delete("T", ids[0]))
	require.NoError(t, m.Delete("T", ids[0]))
	assert.Equal(t, mem, m.TotalMemory())

	require.NoError(t, m.Flush(t.Context(), "T", 1))
	segs := sink.byCollection("T")
	require.Len(t, segs, 1)
	assert.Equal(t, ids[1:], segs[0].IDs)
}

func TestManager_DeleteManyPartial(t *testing.T) {
	m := newTestManager(&recordingSink{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := m.DeleteMany(ctx, "T", []model.ID{1, 2})
	var pe *PartialDeleteError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.Applied)
	assert.Equal(t, 2, pe.Total)

	require.NoError(t, m.DeleteMany(t.Context(), "T", []model.ID{1, 2}))
}

func TestManager_SerializationErrorClearsQueue(t *testing.T) {
	boom := errors.New("disk full")
	sink := &recordingSink{err: boom}
	m := newTestManager(sink)

	_, err := m.Insert(t.Context(), "A", floatVectors(2, 2))
	require.NoError(t, err)
	_, err = m.Insert(t.Context(), "B", floatVectors(2, 2))
	require.NoError(t, err)

	flushed, err := m.FlushAll(t.Context(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A", "B"}, flushed)

	var se *SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint64(3), se.LSN)

	// Not retried: the queue is empty and the memory is released.
	stats := m.Stats()
	assert.Zero(t, stats.QueuedBuffers)
	assert.Zero(t, stats.ImmutableBytes)
	assert.Zero(t, m.TotalMemory())

	flushed, err = m.FlushAll(t.Context(), 4)
	require.NoError(t, err)
	assert.Empty(t, flushed)
}

func TestManager_Drop(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink)

	_, err := m.Insert(t.Context(), "A", floatVectors(2, 2))
	require.NoError(t, err)
	_, err = m.Insert(t.Context(), "B", floatVectors(2, 2))
	require.NoError(t, err)

	m.Drop("A")
	m.Drop("unknown")

	assert.Equal(t, []string{"B"}, m.Collections())
	assert.Equal(t, int64(2*2*4+2*8), m.TotalMemory())

	assert.ErrorIs(t, m.Flush(t.Context(), "A", 1), ErrNotFound)

	flushed, err := m.FlushAll(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, flushed)
	assert.Empty(t, sink.byCollection("A"))

	// A dropped collection can be used again.
	_, err = m.Insert(t.Context(), "A", floatVectors(1, 2))
	require.NoError(t, err)
	require.NoError(t, m.Flush(t.Context(), "A", 2))
	assert.Len(t, sink.byCollection("A"), 1)
}

func TestManager_DropDuringFlush(t *testing.T) {
	sink := &recordingSink{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	m := newTestManager(sink)

	_, err := m.Insert(t.Context(), "T", floatVectors(2, 2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	// First flush blocks inside the sink while holding the queue.
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- m.Flush(t.Context(), "T", 1)
	}()
	<-sink.entered

	// A second generation is cut over and waits for the queue.
	_, err = m.Insert(t.Context(), "T", floatVectors(3, 2))
	require.NoError(t, err)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- m.Flush(t.Context(), "T", 2)
	}()
	require.Eventually(t, func() bool {
		return m.Stats().ActiveBuffers == 0 && m.Stats().QueuedBuffers == 2
	}, time.Second, time.Millisecond)

	dropped := make(chan struct{})
	go func() {
		m.Drop("T")
		close(dropped)
	}()

	// Drop waits for the in-flight serialization.
	select {
	case <-dropped:
		t.Fatal("drop returned while a serialization was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(sink.gate)
	<-dropped
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Only the in-flight generation reached the sink.
	segs := sink.byCollection("T")
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(1), segs[0].CheckpointLSN)
	assert.Equal(t, 2, segs[0].RowCount())

	assert.Zero(t, m.TotalMemory())
	assert.Zero(t, m.Stats().QueuedBuffers)
}

func TestManager_BackpressureUnblocksOnFlush(t *testing.T) {
	for _, mode := range []AdmissionMode{AdmissionPoll, AdmissionNotify} {
		t.Run(mode.String(), func(t *testing.T) {
			obs := &countingObserver{}
			m := newTestManager(&recordingSink{},
				WithBufferSize(1),
				WithAdmission(mode),
				WithMetricsObserver(obs),
			)

			// The first insert is admitted: the budget is checked before admission.
			_, err := m.Insert(t.Context(), "T", floatVectors(1, 2))
			require.NoError(t, err)
			require.Greater(t, m.TotalMemory(), m.BufferSize())

			done := make(chan error, 1)
			go func() {
				_, err := m.Insert(t.Context(), "T", floatVectors(1, 2))
				done <- err
			}()

			select {
			case err := <-done:
				t.Fatalf("insert returned while over budget: %v", err)
			case <-time.After(20 * time.Millisecond):
			}

			require.NoError(t, m.Flush(t.Context(), "T", 1))

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("insert did not resume after flush")
			}
			assert.Equal(t, int64(1), obs.stalls.Load())
		})
	}
}

func TestManager_BackpressureUnblocksOnDrop(t *testing.T) {
	m := newTestManager(&recordingSink{}, WithBufferSize(1), WithAdmission(AdmissionNotify))

	_, err := m.Insert(t.Context(), "A", floatVectors(1, 2))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Insert(t.Context(), "B", floatVectors(1, 2))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.Drop("A")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("insert did not resume after drop")
	}
}

func TestManager_BackpressureContext(t *testing.T) {
	for _, mode := range []AdmissionMode{AdmissionPoll, AdmissionNotify} {
		t.Run(mode.String(), func(t *testing.T) {
			m := newTestManager(&recordingSink{}, WithBufferSize(1), WithAdmission(mode))

			_, err := m.Insert(t.Context(), "T", floatVectors(1, 2))
			require.NoError(t, err)
			mem := m.TotalMemory()

			ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
			defer cancel()

			_, err = m.Insert(ctx, "T", floatVectors(1, 2))
			assert.ErrorIs(t, err, ErrBackpressure)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, mem, m.TotalMemory())
		})
	}
}

func TestManager_ParallelSerialization(t *testing.T) {
	sink := &recordingSink{}
	rc := resource.NewController(resource.Config{MaxBackgroundWorkers: 4})
	m := newTestManager(sink, WithResourceController(rc))

	const collections = 16
	for i := range collections {
		_, err := m.Insert(t.Context(), fmt.Sprintf("c%02d", i), floatVectors(4, 4))
		require.NoError(t, err)
	}

	flushed, err := m.FlushAll(t.Context(), 11)
	require.NoError(t, err)
	assert.Len(t, flushed, collections)
	assert.Len(t, sink.written(), collections)

	// Every worker slot was released.
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	for range rc.MaxBackgroundWorkers() {
		require.NoError(t, rc.AcquireBackground(ctx))
	}
}

func TestManager_ConcurrentInsertAndFlush(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(sink, WithAdmission(AdmissionNotify))

	const (
		writers = 4
		batches = 50
		rows    = 3
	)

	ctx, cancel := context.WithCancel(t.Context())
	var flusher sync.WaitGroup
	flusher.Add(1)
	go func() {
		defer flusher.Done()
		var lsn uint64
		for ctx.Err() == nil {
			lsn++
			_, err := m.FlushAll(t.Context(), lsn)
			assert.NoError(t, err)
		}
	}()

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("w%d", w%2)
			for range batches {
				_, err := m.Insert(t.Context(), name, floatVectors(rows, 2))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	cancel()
	flusher.Wait()

	_, err := m.FlushAll(t.Context(), 1<<20)
	require.NoError(t, err)

	var total int
	seen := make(map[model.ID]struct{})
	for _, seg := range sink.written() {
		total += seg.RowCount()
		for _, id := range seg.IDs {
			seen[id] = struct{}{}
		}
	}
	assert.Equal(t, writers*batches*rows, total)
	assert.Len(t, seen, total)
	assert.Zero(t, m.TotalMemory())
}

func TestManager_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := newTestManager(&recordingSink{}, WithLogger(logger))

	_, err := m.Insert(t.Context(), "T", floatVectors(1, 2))
	require.NoError(t, err)
	require.NoError(t, m.Flush(t.Context(), "T", 1))

	assert.Contains(t, buf.String(), `"msg":"flush completed"`)
	assert.Contains(t, buf.String(), `"collection":"T"`)
}

func TestParseAdmissionMode(t *testing.T) {
	mode, err := ParseAdmissionMode("notify")
	require.NoError(t, err)
	assert.Equal(t, AdmissionNotify, mode)

	mode, err = ParseAdmissionMode("")
	require.NoError(t, err)
	assert.Equal(t, AdmissionPoll, mode)

	_, err = ParseAdmissionMode("spin")
	assert.Error(t, err)
}

type countingObserver struct {
	NoopMetricsObserver
	stalls atomic.Int64
}

func (o *countingObserver) OnStall(time.Duration) { o.stalls.Add(1) }
