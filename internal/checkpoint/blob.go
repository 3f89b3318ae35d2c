package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/hupe1980/vecbuf/blobstore"
)

// Prefix is the blob name prefix under which checkpoints are stored.
const Prefix = "_checkpoints/"

// BlobStore stores checkpoints as JSON blobs.
type BlobStore struct {
	store blobstore.BlobStore
	mu    sync.Mutex
	now   func() time.Time
}

// NewBlobStore creates a checkpoint store on top of store.
func NewBlobStore(store blobstore.BlobStore) *BlobStore {
	return &BlobStore{store: store, now: time.Now}
}

func blobName(collection string) string {
	return Prefix + url.PathEscape(collection) + ".json"
}

// Load returns the checkpoint of collection.
func (s *BlobStore) Load(ctx context.Context, collection string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, blobName(collection))
}

func (s *BlobStore) load(ctx context.Context, name string) (Checkpoint, error) {
	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return cp, nil
}

// Advance stores cp if its LSN is not below the stored one.
func (s *BlobStore) Advance(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := blobName(cp.Collection)
	cur, err := s.load(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case cur.LSN > cp.LSN:
		return fmt.Errorf("%w: collection %q at %d, got %d", ErrStale, cp.Collection, cur.LSN, cp.LSN)
	}

	cp.Segments = cur.Segments + 1
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, name, data)
}

// List returns every stored checkpoint.
func (s *BlobStore) List(ctx context.Context) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, Prefix)
	if err != nil {
		return nil, err
	}

	out := make([]Checkpoint, 0, len(names))
	for _, name := range names {
		if path.Ext(name) != ".json" {
			continue
		}
		cp, err := s.load(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
