package insert

import (
	"context"
	"sync"

	"github.com/hupe1980/vecbuf/internal/segment"
	"github.com/hupe1980/vecbuf/model"
)

// recordingSink records every segment it receives.
type recordingSink struct {
	mu       sync.Mutex
	segments []*segment.Segment
	err      error

	// gate, if set, blocks each write until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (s *recordingSink) WriteSegment(ctx context.Context, seg *segment.Segment) error {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.segments = append(s.segments, seg)
	return nil
}

func (s *recordingSink) written() []*segment.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*segment.Segment(nil), s.segments...)
}

func (s *recordingSink) byCollection(name string) []*segment.Segment {
	var out []*segment.Segment
	for _, seg := range s.written() {
		if seg.Collection == name {
			out = append(out, seg)
		}
	}
	return out
}

// floatVectors builds n float32 vectors of dim whose values encode their row.
func floatVectors(n, dim int) *model.Vectors {
	v := &model.Vectors{Count: n, Float: make([]float32, n*dim)}
	for i := range v.Float {
		v.Float[i] = float32(i / dim)
	}
	return v
}

func withIDs(v *model.Vectors, ids ...model.ID) *model.Vectors {
	v.IDs = ids
	return v
}
