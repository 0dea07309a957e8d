package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a non-durable Store for development and tests. Search is a
// linear scan with exact cosine similarity.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
	dims        map[string]int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Point),
		dims:        make(map[string]int),
	}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]Point)
		s.dims[name] = dims
	}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	for _, p := range points {
		cp := Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...)}
		if p.Payload != nil {
			cp.Payload = make(map[string]any, len(p.Payload))
			for k, v := range p.Payload {
				cp.Payload[k] = v
			}
		}
		coll[p.ID] = cp
	}
	return nil
}

func matchesFilter(p Point, filter Filter) bool {
	for k, want := range filter {
		got, ok := p.Payload[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Search(ctx context.Context, collection string, vec []float32, limit int, filter Filter) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}

	var out []Match
	for _, p := range coll {
		if !matchesFilter(p, filter) {
			continue
		}
		out = append(out, Match{ID: p.ID, Score: Cosine(vec, p.Vector), Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetVector(ctx context.Context, collection, id string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	p, ok := coll[id]
	if !ok {
		return nil, nil
	}
	return append([]float32(nil), p.Vector...), nil
}

func (s *MemoryStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete without a filter")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for id, p := range coll {
		if matchesFilter(p, filter) {
			delete(coll, id)
		}
	}
	return nil
}

// Cosine computes the cosine similarity of two equal-length vectors.
// Mismatched lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
