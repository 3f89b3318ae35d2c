package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/blobstore"
	"github.com/hupe1980/vecbuf/internal/checkpoint"
	vfs "github.com/hupe1980/vecbuf/internal/fs"
	"github.com/hupe1980/vecbuf/internal/insert"
	"github.com/hupe1980/vecbuf/internal/resource"
	"github.com/hupe1980/vecbuf/internal/segment"
	"github.com/hupe1980/vecbuf/model"
)

// Sink must satisfy the write-buffer sink contract.
var _ insert.Sink = (*Sink)(nil)

func testSegment(collection string, lsn uint64) *segment.Segment {
	return &segment.Segment{
		Collection:    collection,
		CheckpointLSN: lsn,
		Kind:          model.KindFloat32,
		Dim:           2,
		IDs:           []model.ID{1, 2, 3},
		Float:         []float32{1, 1, 2, 2, 3, 3},
		Deletes:       []model.ID{99},
	}
}

func sequentialNames() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id%d", n)
	}
}

func TestSegmentName(t *testing.T) {
	name := SegmentName("a/b", 42, "x")
	assert.Equal(t, "a%2Fb/00000000000000000042-x.seg", name)

	collection, lsn, err := ParseSegmentName(name)
	require.NoError(t, err)
	assert.Equal(t, "a/b", collection)
	assert.Equal(t, uint64(42), lsn)

	for _, bad := range []string{"x.seg", "c/abc.seg", "c/1-x.json", "c/zz-x.seg"} {
		_, _, err := ParseSegmentName(bad)
		assert.Error(t, err, bad)
	}
}

func TestSink_WriteAndRead(t *testing.T) {
	for _, c := range []segment.Compression{segment.CompressionNone, segment.CompressionLZ4, segment.CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			sink := New(store, WithCompression(c))

			seg := testSegment("orders", 7)
			require.NoError(t, sink.WriteSegment(t.Context(), seg))

			names, err := sink.ListSegments(t.Context(), "orders")
			require.NoError(t, err)
			require.Len(t, names, 1)

			got, err := sink.ReadSegment(t.Context(), names[0])
			require.NoError(t, err)
			assert.Equal(t, seg.IDs, got.IDs)
			assert.Equal(t, seg.Float, got.Float)
			assert.Equal(t, seg.Deletes, got.Deletes)
			assert.Equal(t, uint64(7), got.CheckpointLSN)

			cp, err := sink.Checkpoints().Load(t.Context(), "orders")
			require.NoError(t, err)
			assert.Equal(t, uint64(7), cp.LSN)
			assert.Equal(t, names[0], cp.Segment)
		})
	}
}

func TestSink_ListOrdersByLSN(t *testing.T) {
	sink := New(blobstore.NewMemoryStore())
	sink.newID = sequentialNames()

	for _, lsn := range []uint64{10, 2, 10} {
		require.NoError(t, sink.WriteSegment(t.Context(), testSegment("c", lsn)))
	}
	require.NoError(t, sink.WriteSegment(t.Context(), testSegment("other", 1)))

	names, err := sink.ListSegments(t.Context(), "c")
	require.NoError(t, err)
	require.Len(t, names, 3)
	assert.Equal(t, []string{
		"c/00000000000000000002-id2.seg",
		"c/00000000000000000010-id1.seg",
		"c/00000000000000000010-id3.seg",
	}, names)

	all, err := sink.ListSegments(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 4, "checkpoint blobs are not listed")
}

func TestSink_StaleCheckpointKeepsSegment(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	sink := New(blobstore.NewMemoryStore(), WithLogger(logger))

	require.NoError(t, sink.WriteSegment(t.Context(), testSegment("c", 9)))
	require.NoError(t, sink.WriteSegment(t.Context(), testSegment("c", 3)))

	names, err := sink.ListSegments(t.Context(), "c")
	require.NoError(t, err)
	assert.Len(t, names, 2)

	cp, err := sink.Checkpoints().Load(t.Context(), "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cp.LSN)
	assert.Contains(t, logs.String(), "checkpoint not advanced")
}

func TestSink_PutFailure(t *testing.T) {
	ffs := vfs.NewFaultyFS(nil)
	ffs.AddRule(".seg", vfs.Fault{FailAfterBytes: 10})
	store := blobstore.NewLocalStoreFS(t.TempDir(), ffs)
	sink := New(store)

	err := sink.WriteSegment(t.Context(), testSegment("c", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, vfs.ErrInjected)

	// Nothing durable: no segment and no checkpoint.
	names, err := sink.ListSegments(t.Context(), "c")
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = sink.Checkpoints().Load(t.Context(), "c")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSink_CheckpointFailure(t *testing.T) {
	boom := errors.New("ddb down")
	sink := New(blobstore.NewMemoryStore(), WithCheckpointStore(failingCheckpoints{err: boom}))

	err := sink.WriteSegment(t.Context(), testSegment("c", 1))
	assert.ErrorIs(t, err, boom)
}

func TestSink_ResourceController(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64, IOLimitBytesPerSec: 1 << 20})
	sink := New(blobstore.NewMemoryStore(), WithResourceController(rc))

	require.NoError(t, sink.WriteSegment(t.Context(), testSegment("c", 1)))
	assert.Zero(t, rc.MemoryUsage(), "encode memory released")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, sink.WriteSegment(ctx, testSegment("c", 2)))
}

func TestSink_WithManager(t *testing.T) {
	store := blobstore.NewLocalStore(t.TempDir())
	sink := New(store, WithCompression(segment.CompressionZSTD))
	m := insert.NewManager(sink)

	ids, err := m.Insert(t.Context(), "docs", &model.Vectors{Count: 2, Float: []float32{1, 2, 3, 4}})
	require.NoError(t, err)
	require.NoError(t, m.Delete("docs", ids[0]))

	require.NoError(t, m.Flush(t.Context(), "docs", 12))

	names, err := sink.ListSegments(t.Context(), "docs")
	require.NoError(t, err)
	require.Len(t, names, 1)

	seg, err := sink.ReadSegment(t.Context(), names[0])
	require.NoError(t, err)
	assert.Equal(t, []model.ID{ids[1]}, seg.IDs)
	assert.Equal(t, []float32{3, 4}, seg.Float)

	cp, err := sink.Checkpoints().Load(t.Context(), "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), cp.LSN)
}

type failingCheckpoints struct {
	err error
}

func (f failingCheckpoints) Load(context.Context, string) (checkpoint.Checkpoint, error) {
	return checkpoint.Checkpoint{}, f.err
}

func (f failingCheckpoints) Advance(context.Context, checkpoint.Checkpoint) error {
	return f.err
}

func (f failingCheckpoints) List(context.Context) ([]checkpoint.Checkpoint, error) {
	return nil, f.err
}
