package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/vecbuf/blobstore"
	"github.com/hupe1980/vecbuf/internal/checkpoint"
	"github.com/hupe1980/vecbuf/internal/resource"
	"github.com/hupe1980/vecbuf/internal/segment"
)

// SegmentExt is the file extension of serialized segments.
const SegmentExt = ".seg"

// Option configures a Sink.
type Option func(*Sink)

// WithCheckpointStore sets where checkpoints are advanced after each write.
// The default keeps them as JSON blobs next to the segments.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(k *Sink) {
		k.checkpoints = s
	}
}

// WithCompression sets the block compression of written segments.
func WithCompression(c segment.Compression) Option {
	return func(k *Sink) {
		k.compression = c
	}
}

// WithResourceController bounds encode memory and write throughput.
func WithResourceController(rc *resource.Controller) Option {
	return func(k *Sink) {
		k.rc = rc
	}
}

// WithLogger sets the logger for the sink.
func WithLogger(l *slog.Logger) Option {
	return func(k *Sink) {
		k.logger = l
	}
}

// Sink persists serialized write buffers into a blob store and records the
// checkpoint LSN of each collection once its segment is durable.
type Sink struct {
	store       blobstore.BlobStore
	checkpoints checkpoint.Store
	compression segment.Compression
	rc          *resource.Controller
	logger      *slog.Logger
	newID       func() string
}

// New creates a Sink writing into store.
func New(store blobstore.BlobStore, opts ...Option) *Sink {
	k := &Sink{
		store:       store,
		compression: segment.CompressionLZ4,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.checkpoints == nil {
		k.checkpoints = checkpoint.NewBlobStore(store)
	}
	if k.logger == nil {
		k.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return k
}

// Store returns the underlying blob store.
func (k *Sink) Store() blobstore.BlobStore {
	return k.store
}

// Checkpoints returns the checkpoint store.
func (k *Sink) Checkpoints() checkpoint.Store {
	return k.checkpoints
}

// SegmentPrefix returns the blob name prefix of a collection's segments.
func SegmentPrefix(collection string) string {
	return url.PathEscape(collection) + "/"
}

// SegmentName returns the blob name of a segment. Names sort by LSN within a
// collection; id keeps flushes that share an LSN apart.
func SegmentName(collection string, lsn uint64, id string) string {
	return SegmentPrefix(collection) + fmt.Sprintf("%020d-%s%s", lsn, id, SegmentExt)
}

// ParseSegmentName extracts the collection and LSN from a segment name.
func ParseSegmentName(name string) (collection string, lsn uint64, err error) {
	dir, file := path.Split(name)
	if dir == "" || path.Ext(file) != SegmentExt {
		return "", 0, fmt.Errorf("not a segment name: %q", name)
	}
	collection, err = url.PathUnescape(strings.TrimSuffix(dir, "/"))
	if err != nil {
		return "", 0, err
	}
	num, _, ok := strings.Cut(file, "-")
	if !ok {
		return "", 0, fmt.Errorf("not a segment name: %q", name)
	}
	lsn, err = strconv.ParseUint(num, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("segment %q: %w", name, err)
	}
	return collection, lsn, nil
}

// WriteSegment encodes seg, stores it under a fresh name and advances the
// collection's checkpoint to seg.CheckpointLSN.
func (k *Sink) WriteSegment(ctx context.Context, seg *segment.Segment) error {
	start := time.Now()

	reserved, err := k.rc.AcquireMemory(ctx, seg.SizeHint())
	if err != nil {
		return err
	}
	defer k.rc.ReleaseMemory(reserved)

	var buf bytes.Buffer
	buf.Grow(int(seg.SizeHint()))

	w := resource.NewRateLimitedWriter(ctx, &buf, k.rc)
	n, err := segment.Encode(w, seg, k.compression)
	if err != nil {
		return fmt.Errorf("encode segment: %w", err)
	}

	name := SegmentName(seg.Collection, seg.CheckpointLSN, k.newID())
	if err := k.store.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("put segment %s: %w", name, err)
	}

	err = k.checkpoints.Advance(ctx, checkpoint.Checkpoint{
		Collection: seg.Collection,
		LSN:        seg.CheckpointLSN,
		Segment:    name,
	})
	switch {
	case errors.Is(err, checkpoint.ErrStale):
		// The segment is durable and carries its own LSN; only the
		// checkpoint stays where it is.
		k.logger.Warn("checkpoint not advanced",
			"collection", seg.Collection,
			"lsn", seg.CheckpointLSN,
			"segment", name,
			"error", err,
		)
	case err != nil:
		return fmt.Errorf("advance checkpoint: %w", err)
	}

	k.logger.Info("segment written",
		"collection", seg.Collection,
		"lsn", seg.CheckpointLSN,
		"segment", name,
		"rows", seg.RowCount(),
		"deletes", len(seg.Deletes),
		"bytes", n,
		"compression", k.compression.String(),
		"duration", time.Since(start),
	)
	return nil
}

// ReadSegment loads and decodes a stored segment.
func (k *Sink) ReadSegment(ctx context.Context, name string) (*segment.Segment, error) {
	data, err := blobstore.ReadAll(ctx, k.store, name)
	if err != nil {
		return nil, err
	}
	seg, err := segment.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", name, err)
	}
	return seg, nil
}

// ListSegments returns the names of a collection's segments ordered by LSN.
// If collection is empty, segments of every collection are returned.
func (k *Sink) ListSegments(ctx context.Context, collection string) ([]string, error) {
	prefix := ""
	if collection != "" {
		prefix = SegmentPrefix(collection)
	}

	names, err := k.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, checkpoint.Prefix) || path.Ext(name) != SegmentExt {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
