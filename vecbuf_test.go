package vecbuf_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf"
	"github.com/hupe1980/vecbuf/blobstore"
)

func floatVectors(n, dim int) *vecbuf.Vectors {
	v := &vecbuf.Vectors{Count: n, Float: make([]float32, n*dim)}
	for i := range v.Float {
		v.Float[i] = float32(i / dim)
	}
	return v
}

func openTestDB(t *testing.T, opts ...vecbuf.Option) *vecbuf.DB {
	t.Helper()
	opts = append([]vecbuf.Option{vecbuf.WithSequentialIDs(1)}, opts...)
	db, err := vecbuf.Open(t.Context(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB(t *testing.T) {
	t.Run("InsertFlushCheckpoint", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		db := openTestDB(t, vecbuf.WithBlobStore(store))
		ctx := t.Context()

		v := floatVectors(3, 4)
		ids, err := db.Insert(ctx, "docs", v)
		require.NoError(t, err)
		assert.Equal(t, []vecbuf.ID{1, 2, 3}, ids)
		assert.Equal(t, ids, v.IDs)
		assert.Equal(t, []string{"docs"}, db.Collections())
		assert.Positive(t, db.TotalMemory())

		require.NoError(t, db.Flush(ctx, "docs", 11))
		assert.Zero(t, db.TotalMemory())
		assert.Empty(t, db.Collections())

		cp, err := db.Checkpoint(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, uint64(11), cp.LSN)
		assert.Equal(t, uint64(1), cp.Segments)

		segs, err := db.Segments(ctx, "docs")
		require.NoError(t, err)
		require.Len(t, segs, 1)
		assert.Equal(t, cp.Segment, segs[0])
		assert.Same(t, blobstore.BlobStore(store), db.BlobStore())
	})

	t.Run("FlushUnknownCollection", func(t *testing.T) {
		db := openTestDB(t)
		err := db.Flush(t.Context(), "missing", 1)
		assert.ErrorIs(t, err, vecbuf.ErrNotFound)
	})

	t.Run("CheckpointUnknownCollection", func(t *testing.T) {
		db := openTestDB(t)
		_, err := db.Checkpoint(t.Context(), "missing")
		assert.ErrorIs(t, err, vecbuf.ErrNotFound)
	})

	t.Run("InvalidBatch", func(t *testing.T) {
		db := openTestDB(t)
		_, err := db.Insert(t.Context(), "docs", &vecbuf.Vectors{Count: 2, Float: []float32{1, 2, 3}})
		assert.ErrorIs(t, err, vecbuf.ErrInvalidBatch)
	})

	t.Run("FlushAll", func(t *testing.T) {
		db := openTestDB(t)
		ctx := t.Context()

		for _, c := range []string{"b", "a", "c"} {
			_, err := db.Insert(ctx, c, floatVectors(2, 2))
			require.NoError(t, err)
		}
		require.NoError(t, db.Delete(ctx, "deletes-only", 42))

		names, err := db.FlushAll(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names)
		assert.Equal(t, []string{"deletes-only"}, db.Collections())

		cps, err := db.Checkpoints(ctx)
		require.NoError(t, err)
		assert.Len(t, cps, 3)
	})

	t.Run("DeleteManyCancelled", func(t *testing.T) {
		db := openTestDB(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := db.DeleteMany(ctx, "docs", []vecbuf.ID{1, 2, 3})
		require.ErrorIs(t, err, vecbuf.ErrPartialDelete)

		var pde *vecbuf.PartialDeleteError
		require.ErrorAs(t, err, &pde)
		assert.Equal(t, 0, pde.Applied)
		assert.Equal(t, 3, pde.Total)
	})

	t.Run("Drop", func(t *testing.T) {
		db := openTestDB(t)
		ctx := t.Context()

		_, err := db.Insert(ctx, "docs", floatVectors(2, 2))
		require.NoError(t, err)
		require.NoError(t, db.Drop(ctx, "docs"))

		assert.Zero(t, db.TotalMemory())
		assert.ErrorIs(t, db.Flush(ctx, "docs", 1), vecbuf.ErrNotFound)
	})
}

func TestOpen_Validation(t *testing.T) {
	_, err := vecbuf.Open(t.Context(), vecbuf.WithBufferSize(0))
	assert.Error(t, err)

	_, err = vecbuf.Open(t.Context(), vecbuf.WithAutoFlush(time.Second, nil))
	assert.Error(t, err)
}

func TestBackpressure(t *testing.T) {
	t.Run("ContextEnds", func(t *testing.T) {
		db := openTestDB(t, vecbuf.WithBufferSize(1))

		_, err := db.Insert(t.Context(), "docs", floatVectors(4, 4))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		_, err = db.Insert(ctx, "docs", floatVectors(1, 4))
		assert.ErrorIs(t, err, vecbuf.ErrBackpressure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("FlushReleases", func(t *testing.T) {
		metrics := &vecbuf.BasicMetricsObserver{}
		db := openTestDB(t,
			vecbuf.WithBufferSize(1),
			vecbuf.WithAdmission(vecbuf.AdmissionNotify),
			vecbuf.WithMetricsObserver(metrics),
		)
		ctx := t.Context()

		_, err := db.Insert(ctx, "docs", floatVectors(4, 4))
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := db.Insert(ctx, "docs", floatVectors(1, 4))
			done <- err
		}()

		select {
		case err := <-done:
			t.Fatalf("insert returned before flush: %v", err)
		case <-time.After(20 * time.Millisecond):
		}

		require.NoError(t, db.Flush(ctx, "docs", 1))

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("insert still blocked after flush")
		}

		stats := metrics.GetStats()
		assert.Equal(t, int64(2), stats.InsertCount)
		assert.Equal(t, int64(5), stats.InsertRows)
		assert.Equal(t, int64(1), stats.StallCount)
		assert.Equal(t, int64(1), stats.FlushCount)
	})
}

func TestClose(t *testing.T) {
	t.Run("FlushesWithLastLSN", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		db, err := vecbuf.Open(t.Context(), vecbuf.WithBlobStore(store))
		require.NoError(t, err)
		ctx := t.Context()

		_, err = db.Insert(ctx, "a", floatVectors(1, 2))
		require.NoError(t, err)
		require.NoError(t, db.Flush(ctx, "a", 8))

		_, err = db.Insert(ctx, "b", floatVectors(1, 2))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		reopened, err := vecbuf.Open(ctx, vecbuf.WithBlobStore(store))
		require.NoError(t, err)
		defer reopened.Close()

		cp, err := reopened.Checkpoint(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, uint64(8), cp.LSN)
	})

	t.Run("ClosedOperations", func(t *testing.T) {
		db, err := vecbuf.Open(t.Context())
		require.NoError(t, err)
		require.NoError(t, db.Close())
		require.NoError(t, db.Close())

		ctx := t.Context()
		_, err = db.Insert(ctx, "a", floatVectors(1, 2))
		assert.ErrorIs(t, err, vecbuf.ErrClosed)
		assert.ErrorIs(t, db.Delete(ctx, "a", 1), vecbuf.ErrClosed)
		assert.ErrorIs(t, db.DeleteMany(ctx, "a", []vecbuf.ID{1}), vecbuf.ErrClosed)
		assert.ErrorIs(t, db.Flush(ctx, "a", 1), vecbuf.ErrClosed)
		_, err = db.FlushAll(ctx, 1)
		assert.ErrorIs(t, err, vecbuf.ErrClosed)
		assert.ErrorIs(t, db.Drop(ctx, "a"), vecbuf.ErrClosed)
	})

	t.Run("RecoversLastLSN", func(t *testing.T) {
		dir := t.TempDir()
		ctx := t.Context()

		db, err := vecbuf.Open(ctx, vecbuf.WithBlobStore(blobstore.NewLocalStore(dir)))
		require.NoError(t, err)
		_, err = db.Insert(ctx, "a", floatVectors(1, 2))
		require.NoError(t, err)
		require.NoError(t, db.Flush(ctx, "a", 9))
		require.NoError(t, db.Close())

		db, err = vecbuf.Open(ctx, vecbuf.WithBlobStore(blobstore.NewLocalStore(dir)))
		require.NoError(t, err)
		_, err = db.Insert(ctx, "a", floatVectors(1, 2))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = vecbuf.Open(ctx, vecbuf.WithBlobStore(blobstore.NewLocalStore(dir)))
		require.NoError(t, err)
		defer db.Close()

		cp, err := db.Checkpoint(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(9), cp.LSN)
		assert.Equal(t, uint64(2), cp.Segments)
	})
}

func TestAutoFlush(t *testing.T) {
	var lsn atomic.Uint64
	lsn.Store(7)

	metrics := &vecbuf.BasicMetricsObserver{}
	db := openTestDB(t,
		vecbuf.WithAutoFlush(5*time.Millisecond, lsn.Load),
		vecbuf.WithMetricsObserver(metrics),
	)
	ctx := t.Context()

	_, err := db.Insert(ctx, "docs", floatVectors(2, 2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cp, err := db.Checkpoint(ctx, "docs")
		return err == nil && cp.LSN == 7
	}, 5*time.Second, 5*time.Millisecond)

	lsn.Store(12)
	_, err = db.Insert(ctx, "docs", floatVectors(1, 2))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.Positive(t, metrics.GetStats().FlushCount)

	cp, err := db.Checkpoint(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), cp.LSN)
}

func TestTranslateErrorKeepsCause(t *testing.T) {
	db := openTestDB(t)
	err := db.Flush(t.Context(), "missing", 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, vecbuf.ErrSerialization))
	assert.Contains(t, err.Error(), "missing")
}
