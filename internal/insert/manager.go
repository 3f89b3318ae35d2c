package insert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecbuf/internal/resource"
	"github.com/hupe1980/vecbuf/model"
)

const (
	// DefaultBufferSize is the default insert buffer budget (4 GiB).
	DefaultBufferSize = 4 << 30

	// DefaultPollInterval is how often AdmissionPoll re-checks the budget.
	DefaultPollInterval = time.Millisecond
)

// Option configures a Manager.
type Option func(*Manager)

// WithBufferSize sets the memory budget above which inserts wait.
func WithBufferSize(bytes int64) Option {
	return func(m *Manager) {
		m.bufferSize = bytes
	}
}

// WithAdmission sets how inserts wait while the budget is exceeded.
func WithAdmission(mode AdmissionMode) Option {
	return func(m *Manager) {
		m.admission = mode
	}
}

// WithPollInterval sets the re-check interval of AdmissionPoll.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithIDGenerator sets the generator used for batches without ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithResourceController sets the controller that bounds parallel serialization.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Manager) {
		m.rc = rc
	}
}

// WithMetricsObserver sets the metrics observer for the manager.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(m *Manager) {
		m.metrics = o
	}
}

// collectionState is shared by every buffer generation of one collection.
// It lets a drop reach buffers that are between the active map and the
// immutable queue.
type collectionState struct {
	dropped atomic.Bool
}

// queued is an immutable-queue entry.
type queued struct {
	buf   *WriteBuffer
	state *collectionState
	bytes int64
}

// Manager owns the write buffers of all collections.
//
// Two locks guard its state and no operation holds both at once:
//
//   - mu guards the active map: one mutable buffer per collection.
//   - serialMu guards the immutable queue and is held while the queue is
//     serialized, so slow I/O never blocks inserts.
//
// Cutover removes a buffer from the active map under mu, releases it, and
// appends the buffer to the queue under serialMu.
type Manager struct {
	sink Sink

	bufferSize   int64
	admission    AdmissionMode
	pollInterval time.Duration
	ids          IDGenerator
	logger       *slog.Logger
	rc           *resource.Controller
	metrics      MetricsObserver
	admit        admitter

	mu     sync.Mutex
	active map[string]*WriteBuffer
	states map[string]*collectionState

	serialMu  sync.Mutex
	immutable []queued

	// immutableBytes mirrors the footprint of buffers cut over but not yet
	// serialized or dropped. It is raised under mu during cutover so the sum
	// observed by TotalMemory never misses a buffer in transit.
	immutableBytes atomic.Int64
	immutableCount atomic.Int64
}

// NewManager creates a Manager that serializes buffers into sink.
func NewManager(sink Sink, opts ...Option) *Manager {
	m := &Manager{
		sink:         sink,
		bufferSize:   DefaultBufferSize,
		admission:    AdmissionPoll,
		pollInterval: DefaultPollInterval,
		active:       make(map[string]*WriteBuffer),
		states:       make(map[string]*collectionState),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.ids == nil {
		m.ids = NewTimeIDGenerator()
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.metrics == nil {
		m.metrics = NoopMetricsObserver{}
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	m.admit = newAdmitter(m.admission, m.pollInterval)

	return m
}

// BufferSize returns the configured memory budget.
func (m *Manager) BufferSize() int64 {
	return m.bufferSize
}

// bufferLocked returns the active buffer of collection, creating it if needed.
// m.mu must be held.
func (m *Manager) bufferLocked(collection string) (*WriteBuffer, *collectionState) {
	state, ok := m.states[collection]
	if !ok {
		state = &collectionState{}
		m.states[collection] = state
	}

	buf, ok := m.active[collection]
	if !ok {
		buf = NewWriteBuffer(collection, m.ids, m.sink)
		m.active[collection] = buf
		m.logger.Debug("write buffer created", "collection", collection)
	}
	return buf, state
}

// Insert admits v into the active buffer of collection.
//
// While TotalMemory exceeds the budget the call waits; it never triggers a
// flush itself. The returned ids are also written back into v.IDs when the
// caller supplied none. If ctx ends while waiting, the error matches both
// ErrBackpressure and the context error.
func (m *Manager) Insert(ctx context.Context, collection string, v *model.Vectors) ([]model.ID, error) {
	if err := m.waitForMemory(ctx, collection); err != nil {
		m.metrics.OnInsert(collection, 0, 0, err)
		return nil, err
	}

	batch := newVectorBatch(v)

	m.mu.Lock()
	buf, _ := m.bufferLocked(collection)
	err := buf.Add(batch)
	m.mu.Unlock()

	if err != nil {
		m.metrics.OnInsert(collection, 0, 0, err)
		return nil, err
	}

	m.metrics.OnInsert(collection, batch.Count(), batch.Size(), nil)
	return v.IDs, nil
}

func (m *Manager) overBudget() bool {
	return m.TotalMemory() > m.bufferSize
}

func (m *Manager) waitForMemory(ctx context.Context, collection string) error {
	if !m.overBudget() {
		return nil
	}

	start := time.Now()
	m.logger.Warn("insert stalled: buffer budget exceeded",
		"collection", collection,
		"budget", m.bufferSize,
		"admission", m.admission.String(),
	)

	err := m.admit.wait(ctx, m.overBudget)
	m.metrics.OnStall(time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	}
	return nil
}

// Delete tombstones id in the active buffer of collection.
func (m *Manager) Delete(collection string, id model.ID) error {
	m.mu.Lock()
	buf, _ := m.bufferLocked(collection)
	err := buf.Delete(id)
	m.mu.Unlock()

	m.metrics.OnDelete(collection, 1, err)
	return err
}

// DeleteMany tombstones ids in the active buffer of collection.
//
// It is not atomic: on failure a *PartialDeleteError reports how many ids
// were applied before the failing one, and those stay deleted.
func (m *Manager) DeleteMany(ctx context.Context, collection string, ids []model.ID) error {
	m.mu.Lock()
	buf, _ := m.bufferLocked(collection)
	err := buf.DeleteMany(ctx, ids)
	m.mu.Unlock()

	m.metrics.OnDelete(collection, len(ids), err)
	return err
}

// Flush cuts over the active buffer of collection and serializes the whole
// immutable queue tagged with lsn.
//
// It returns ErrNotFound, changing nothing, when the collection has no
// active buffer. Serialization failures are returned as *SerializationError
// values; the failed buffers are not retried and the queue is cleared anyway.
func (m *Manager) Flush(ctx context.Context, collection string, lsn uint64) error {
	if err := m.cutover(collection); err != nil {
		m.logger.Error("flush failed", "collection", collection, "error", err)
		return err
	}

	_, err := m.serializeQueue(ctx, lsn)
	return err
}

// FlushAll cuts over every non-empty active buffer, serializes the whole
// immutable queue tagged with lsn, and returns the sorted set of collections
// that were serialized. Empty buffers stay active.
func (m *Manager) FlushAll(ctx context.Context, lsn uint64) ([]string, error) {
	m.cutoverAll()
	return m.serializeQueue(ctx, lsn)
}

// cutover moves the active buffer of collection to the immutable queue.
func (m *Manager) cutover(collection string) error {
	m.mu.Lock()
	buf, ok := m.active[collection]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: could not find collection %q to flush", ErrNotFound, collection)
	}
	delete(m.active, collection)
	entry := m.sealLocked(buf)
	m.mu.Unlock()

	m.enqueue(entry)
	return nil
}

// cutoverAll moves every non-empty active buffer to the immutable queue.
func (m *Manager) cutoverAll() {
	m.mu.Lock()
	var moved []queued
	for collection, buf := range m.active {
		if buf.IsEmpty() {
			continue
		}
		delete(m.active, collection)
		moved = append(moved, m.sealLocked(buf))
	}
	m.mu.Unlock()

	m.enqueue(moved...)
}

// sealLocked seals buf and transfers its footprint to the immutable side.
// m.mu must be held.
func (m *Manager) sealLocked(buf *WriteBuffer) queued {
	buf.seal()
	bytes := buf.CurrentMemory()
	m.immutableBytes.Add(bytes)
	m.immutableCount.Add(1)
	return queued{buf: buf, state: m.states[buf.Collection()], bytes: bytes}
}

func (m *Manager) enqueue(entries ...queued) {
	if len(entries) == 0 {
		return
	}

	m.serialMu.Lock()
	var released bool
	for _, e := range entries {
		// Dropped while in transit between the two locks.
		if e.state != nil && e.state.dropped.Load() {
			m.release(e)
			released = true
			continue
		}
		m.immutable = append(m.immutable, e)
	}
	m.serialMu.Unlock()

	if released {
		m.admit.released()
	}
}

// release forgets a queue entry and its footprint.
func (m *Manager) release(e queued) {
	e.buf.discard()
	m.immutableBytes.Add(-e.bytes)
	m.immutableCount.Add(-1)
}

// serializeQueue serializes and clears the immutable queue.
func (m *Manager) serializeQueue(ctx context.Context, lsn uint64) ([]string, error) {
	start := time.Now()

	m.serialMu.Lock()
	flushed, buffers, err := m.serializeQueueLocked(ctx, lsn)
	m.serialMu.Unlock()

	if buffers == 0 {
		return nil, nil
	}

	m.admit.released()
	m.metrics.OnFlush(time.Since(start), buffers, err)
	m.metrics.OnMemory(m.activeMemory(), m.immutableBytes.Load())

	if err != nil {
		m.logger.Error("flush completed with errors",
			"lsn", lsn,
			"buffers", buffers,
			"collections", len(flushed),
			"error", err,
		)
	} else {
		m.logger.Info("flush completed",
			"lsn", lsn,
			"buffers", buffers,
			"collections", len(flushed),
			"duration", time.Since(start),
		)
	}
	return flushed, err
}

// serializeQueueLocked drains the queue. Buffers of one collection are
// written in queue order; different collections run in parallel, bounded by
// the resource controller. m.serialMu must be held.
func (m *Manager) serializeQueueLocked(ctx context.Context, lsn uint64) ([]string, int, error) {
	queue := m.immutable
	m.immutable = nil
	if len(queue) == 0 {
		return nil, 0, nil
	}

	groups := make(map[string][]queued)
	var order []string
	for _, e := range queue {
		name := e.buf.Collection()
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], e)
	}

	var (
		mu      sync.Mutex
		errs    []error
		flushed []string
	)

	var g errgroup.Group
	g.SetLimit(m.rc.MaxBackgroundWorkers())
	for _, name := range order {
		entries := groups[name]
		g.Go(func() error {
			written, err := m.serializeGroup(ctx, name, entries, lsn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if written {
				flushed = append(flushed, name)
			}
			return nil
		})
	}
	_ = g.Wait() // Errors are collected above so every group runs.

	slices.Sort(flushed)
	return flushed, len(queue), errors.Join(errs...)
}

// serializeGroup writes the buffers of one collection in order. Every entry
// is released whatever the outcome. written reports whether any buffer of the
// group was still live, i.e. not dropped.
func (m *Manager) serializeGroup(ctx context.Context, collection string, entries []queued, lsn uint64) (written bool, err error) {
	if err := m.rc.AcquireBackground(ctx); err != nil {
		for _, e := range entries {
			m.release(e)
		}
		return true, &SerializationError{Collection: collection, LSN: lsn, Err: err}
	}
	defer m.rc.ReleaseBackground()

	var errs []error
	for _, e := range entries {
		if e.state != nil && e.state.dropped.Load() {
			m.release(e)
			continue
		}
		written = true

		rows := e.buf.RowCount()
		err := e.buf.Serialize(ctx, lsn)
		m.release(e)

		if err != nil {
			var se *SerializationError
			if !errors.As(err, &se) {
				err = &SerializationError{Collection: collection, LSN: lsn, Err: err}
			}
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("write buffer serialized", "collection", collection, "lsn", lsn, "rows", rows)
	}
	return written, errors.Join(errs...)
}

// Drop removes every buffer of collection, active or queued.
//
// A buffer currently being serialized finishes first; later generations of
// the collection waiting in the queue are never written.
func (m *Manager) Drop(collection string) {
	m.mu.Lock()
	buf := m.active[collection]
	delete(m.active, collection)
	if state, ok := m.states[collection]; ok {
		state.dropped.Store(true)
		delete(m.states, collection)
	}
	m.mu.Unlock()

	if buf != nil {
		buf.discard()
	}

	m.serialMu.Lock()
	kept := m.immutable[:0]
	var removed int
	for _, e := range m.immutable {
		if e.buf.Collection() == collection {
			m.release(e)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(m.immutable[len(kept):])
	m.immutable = kept
	m.serialMu.Unlock()

	if buf != nil || removed > 0 {
		m.admit.released()
	}
	m.logger.Info("collection dropped", "collection", collection, "queued_removed", removed)
}

func (m *Manager) activeMemory() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMemoryLocked()
}

func (m *Manager) activeMemoryLocked() int64 {
	var total int64
	for _, buf := range m.active {
		total += buf.CurrentMemory()
	}
	return total
}

// TotalMemory returns the footprint of every active and queued buffer.
// It is the quantity compared against the budget.
func (m *Manager) TotalMemory() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMemoryLocked() + m.immutableBytes.Load()
}

// Collections returns the sorted names of collections with an active buffer.
func (m *Manager) Collections() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	m.mu.Unlock()

	slices.Sort(names)
	return names
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	ActiveBuffers   int
	QueuedBuffers   int
	ActiveBytes     int64
	ImmutableBytes  int64
	BufferSizeBytes int64
}

// Stats returns a point-in-time view of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		ActiveBuffers:   len(m.active),
		ActiveBytes:     m.activeMemoryLocked(),
		ImmutableBytes:  m.immutableBytes.Load(),
		QueuedBuffers:   int(m.immutableCount.Load()),
		BufferSizeBytes: m.bufferSize,
	}
	m.mu.Unlock()
	return s
}
