package vecbuf

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecbuf/blobstore"
	"github.com/hupe1980/vecbuf/internal/checkpoint"
	"github.com/hupe1980/vecbuf/internal/insert"
	"github.com/hupe1980/vecbuf/internal/segment"
)

// AdmissionMode selects how inserts wait while the memory budget is exceeded.
type AdmissionMode = insert.AdmissionMode

const (
	// AdmissionPoll re-checks the budget on a short fixed interval.
	AdmissionPoll = insert.AdmissionPoll
	// AdmissionNotify parks waiters until a flush or drop releases memory.
	AdmissionNotify = insert.AdmissionNotify
)

// Compression selects the block compression of written segments.
type Compression = segment.Compression

const (
	CompressionNone = segment.CompressionNone
	CompressionLZ4  = segment.CompressionLZ4
	CompressionZSTD = segment.CompressionZSTD
)

// DefaultBufferSize is the memory budget used when WithBufferSize is not given.
const DefaultBufferSize = insert.DefaultBufferSize

// LSNSource reports the highest log sequence number whose writes are already
// buffered. The auto-flush loop tags each flush with its value.
type LSNSource func() uint64

type options struct {
	store             blobstore.BlobStore
	checkpoints       checkpoint.Store
	bufferSize        int64
	admission         AdmissionMode
	pollInterval      time.Duration
	compression       Compression
	workers           int64
	ioLimit           int64
	encodeMemoryLimit int64
	flushInterval     time.Duration
	lsnSource         LSNSource
	idGenerator       insert.IDGenerator
	metrics           MetricsObserver
	logger            *Logger
}

// Option configures Open.
type Option func(*options)

// WithBlobStore sets where segments are written. Without it segments are
// kept in memory and lost on exit.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCheckpointStore sets where per-collection checkpoints are recorded.
// The default stores them as JSON blobs in the blob store.
func WithCheckpointStore(store CheckpointStore) Option {
	return func(o *options) {
		o.checkpoints = store
	}
}

// WithBufferSize sets the memory budget of all write buffers combined.
// Inserts wait while the buffered footprint exceeds it.
func WithBufferSize(bytes int64) Option {
	return func(o *options) {
		o.bufferSize = bytes
	}
}

// WithAdmission sets how blocked inserts wait for memory.
func WithAdmission(mode AdmissionMode) Option {
	return func(o *options) {
		o.admission = mode
	}
}

// WithPollInterval sets the re-check interval of AdmissionPoll.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithCompression sets the block compression of written segments.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithWorkers sets how many collections are serialized in parallel during a flush.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = int64(n)
	}
}

// WithIOLimit caps segment write throughput in bytes per second. 0 is unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithEncodeMemoryLimit bounds the scratch memory held by concurrent segment
// encodes. 0 is unlimited.
func WithEncodeMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.encodeMemoryLimit = bytes
	}
}

// WithAutoFlush starts a background loop that flushes every collection each
// interval, tagging the flush with the value of lsn.
//
// Example:
//
//	var lastLSN atomic.Uint64
//	db, _ := vecbuf.Open(ctx,
//	    vecbuf.WithAutoFlush(30*time.Second, lastLSN.Load),
//	)
func WithAutoFlush(interval time.Duration, lsn LSNSource) Option {
	return func(o *options) {
		o.flushInterval = interval
		o.lsnSource = lsn
	}
}

// WithSequentialIDs makes generated identifiers count up from start instead
// of being seeded from the clock.
func WithSequentialIDs(start uint64) Option {
	return func(o *options) {
		o.idGenerator = insert.NewSequentialIDGenerator(start)
	}
}

// WithMetricsObserver configures a metrics observer for monitoring.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsObserver:
//
//	metrics := &vecbuf.BasicMetricsObserver{}
//	db, _ := vecbuf.Open(ctx, vecbuf.WithMetricsObserver(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Flushes: %d, Stalls: %d\n", stats.FlushCount, stats.StallCount)
func WithMetricsObserver(mo MetricsObserver) Option {
	return func(o *options) {
		o.metrics = mo
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		bufferSize:  DefaultBufferSize,
		admission:   AdmissionPoll,
		compression: CompressionLZ4,
		workers:     1,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsObserver{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.store == nil {
		o.store = blobstore.NewMemoryStore()
	}
	return o
}
