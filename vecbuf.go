package vecbuf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecbuf/blobstore"
	"github.com/hupe1980/vecbuf/internal/checkpoint"
	"github.com/hupe1980/vecbuf/internal/insert"
	"github.com/hupe1980/vecbuf/internal/resource"
	"github.com/hupe1980/vecbuf/internal/storage"
	"github.com/hupe1980/vecbuf/model"
)

// ID is the stable identifier of a vector.
type ID = model.ID

// Vectors is an insert request: Count float32 or binary vectors with optional ids.
type Vectors = model.Vectors

// Stats is a point-in-time view of the buffered state.
type Stats = insert.Stats

// Checkpoint records the highest LSN of a collection whose writes are durable.
type Checkpoint = checkpoint.Checkpoint

// CheckpointStore persists per-collection checkpoints.
type CheckpointStore = checkpoint.Store

// DB buffers writes per collection and flushes them into segments.
// All methods are safe for concurrent use.
type DB struct {
	opts    options
	manager *insert.Manager
	sink    *storage.Sink
	logger  *Logger

	// lastLSN is the highest LSN seen by a flush or recovered from a
	// checkpoint; Close uses it when no LSNSource is configured.
	lastLSN atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	stopFlush context.CancelFunc
	flushDone chan struct{}
}

// Open creates a DB. ctx bounds loading the existing checkpoints.
func Open(ctx context.Context, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)

	if o.bufferSize <= 0 {
		return nil, fmt.Errorf("vecbuf: buffer size must be positive, got %d", o.bufferSize)
	}
	if o.flushInterval < 0 {
		return nil, fmt.Errorf("vecbuf: flush interval must not be negative, got %s", o.flushInterval)
	}
	if o.flushInterval > 0 && o.lsnSource == nil {
		return nil, errors.New("vecbuf: auto flush requires an LSN source")
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.encodeMemoryLimit,
		MaxBackgroundWorkers: o.workers,
		IOLimitBytesPerSec:   o.ioLimit,
	})

	sinkOpts := []storage.Option{
		storage.WithCompression(o.compression),
		storage.WithResourceController(rc),
		storage.WithLogger(o.logger.Logger),
	}
	if o.checkpoints != nil {
		sinkOpts = append(sinkOpts, storage.WithCheckpointStore(o.checkpoints))
	}
	sink := storage.New(o.store, sinkOpts...)

	managerOpts := []insert.Option{
		insert.WithBufferSize(o.bufferSize),
		insert.WithAdmission(o.admission),
		insert.WithPollInterval(o.pollInterval),
		insert.WithResourceController(rc),
		insert.WithLogger(o.logger.Logger),
		insert.WithMetricsObserver(loggingObserver{MetricsObserver: o.metrics, logger: o.logger}),
	}
	if o.idGenerator != nil {
		managerOpts = append(managerOpts, insert.WithIDGenerator(o.idGenerator))
	}

	db := &DB{
		opts:    o,
		manager: insert.NewManager(sink, managerOpts...),
		sink:    sink,
		logger:  o.logger,
	}

	cps, err := sink.Checkpoints().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("vecbuf: load checkpoints: %w", err)
	}
	for _, cp := range cps {
		db.noteLSN(cp.LSN)
	}
	db.logger.InfoContext(ctx, "opened",
		"buffer_size", o.bufferSize,
		"admission", o.admission.String(),
		"compression", o.compression.String(),
		"checkpoints", len(cps),
		"last_lsn", db.lastLSN.Load(),
	)

	if o.flushInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		db.stopFlush = cancel
		db.flushDone = make(chan struct{})
		go db.autoFlush(loopCtx, o.flushInterval, o.lsnSource)
	}

	return db, nil
}

// Insert buffers v into collection and returns the identifiers of its rows.
// Generated identifiers are also written back into v.IDs.
//
// While the memory budget is exceeded Insert waits until a flush or drop
// releases memory or ctx ends; in the latter case the error matches
// ErrBackpressure.
func (db *DB) Insert(ctx context.Context, collection string, v *Vectors) ([]ID, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	ids, err := db.manager.Insert(ctx, collection, v)
	db.logger.LogInsert(ctx, collection, len(ids), err)
	return ids, translateError(err)
}

// Delete tombstones id in collection. Deleting an unknown id is not an error;
// the tombstone is carried into the next segment.
func (db *DB) Delete(ctx context.Context, collection string, id ID) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.manager.Delete(collection, id)
	db.logger.LogDelete(ctx, collection, 1, err)
	return translateError(err)
}

// DeleteMany tombstones ids in order. It is not atomic: on failure the
// error is a *PartialDeleteError telling how many were applied.
func (db *DB) DeleteMany(ctx context.Context, collection string, ids []ID) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.manager.DeleteMany(ctx, collection, ids)
	db.logger.LogDelete(ctx, collection, len(ids), err)
	return translateError(err)
}

// Flush cuts over the buffer of collection and serializes every pending
// buffer, recording lsn as their checkpoint. It returns ErrNotFound if
// collection has nothing buffered.
func (db *DB) Flush(ctx context.Context, collection string, lsn uint64) error {
	if db.closed.Load() {
		return ErrClosed
	}
	db.noteLSN(lsn)
	err := db.manager.Flush(ctx, collection, lsn)
	if errors.Is(err, insert.ErrNotFound) {
		return translateError(err)
	}
	db.logger.LogFlush(ctx, []string{collection}, lsn, err)
	return translateError(err)
}

// FlushAll flushes every collection with buffered inserts and returns the
// sorted names of the collections that were serialized.
func (db *DB) FlushAll(ctx context.Context, lsn uint64) ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.flushAll(ctx, lsn)
}

func (db *DB) flushAll(ctx context.Context, lsn uint64) ([]string, error) {
	db.noteLSN(lsn)
	names, err := db.manager.FlushAll(ctx, lsn)
	if len(names) > 0 || err != nil {
		db.logger.LogFlush(ctx, names, lsn, err)
	}
	return names, translateError(err)
}

// Drop discards everything buffered for collection, including buffers
// waiting to be serialized. Segments already written are left untouched.
func (db *DB) Drop(ctx context.Context, collection string) error {
	if db.closed.Load() {
		return ErrClosed
	}
	db.manager.Drop(collection)
	db.logger.LogDrop(ctx, collection)
	return nil
}

// TotalMemory returns the buffered footprint in bytes.
func (db *DB) TotalMemory() int64 {
	return db.manager.TotalMemory()
}

// Stats returns a point-in-time view of the buffered state.
func (db *DB) Stats() Stats {
	return db.manager.Stats()
}

// Collections returns the sorted names of collections with an active buffer.
func (db *DB) Collections() []string {
	return db.manager.Collections()
}

// Checkpoint returns the durable checkpoint of collection.
// It returns ErrNotFound if nothing was flushed for it yet.
func (db *DB) Checkpoint(ctx context.Context, collection string) (Checkpoint, error) {
	cp, err := db.sink.Checkpoints().Load(ctx, collection)
	return cp, translateError(err)
}

// Checkpoints returns the checkpoints of every collection.
func (db *DB) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	return db.sink.Checkpoints().List(ctx)
}

// Segments returns the names of the segments written for collection,
// ordered by checkpoint LSN.
func (db *DB) Segments(ctx context.Context, collection string) ([]string, error) {
	return db.sink.ListSegments(ctx, collection)
}

// BlobStore returns the store segments are written to.
func (db *DB) BlobStore() blobstore.BlobStore {
	return db.sink.Store()
}

func (db *DB) noteLSN(lsn uint64) {
	for {
		cur := db.lastLSN.Load()
		if lsn <= cur || db.lastLSN.CompareAndSwap(cur, lsn) {
			return
		}
	}
}

func (db *DB) autoFlush(ctx context.Context, interval time.Duration, lsn LSNSource) {
	defer close(db.flushDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// An in-flight flush finishes even if Close is called meanwhile.
			if _, err := db.flushAll(context.WithoutCancel(ctx), lsn()); err != nil {
				db.logger.Warn("auto flush failed", "error", err)
			}
		}
	}
}
