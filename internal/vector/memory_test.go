package vector

import (
	"context"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("identical vectors: %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); got != -1 {
		t.Fatalf("opposite vectors: %v", got)
	}
	if got := Cosine([]float32{1, 1}, []float32{1, 0}); math.Abs(got-1/math.Sqrt2) > 1e-9 {
		t.Fatalf("45 degrees: %v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("length mismatch: %v", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector: %v", got)
	}
}

func newTestMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemory()
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "test", 2); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	points := []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "b", Vector: []float32{0.9, 0.1}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "c", Vector: []float32{0, 1}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "other", Vector: []float32{1, 0}, Payload: map[string]any{"repo_id": int64(2)}},
	}
	if err := s.Upsert(ctx, "test", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return s
}

func TestSearchOrdersByScore(t *testing.T) {
	s := newTestMemory(t)
	matches, err := s.Search(context.Background(), "test", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 4 {
		t.Fatalf("expected 4 matches, got %d", len(matches))
	}
	// "a" and "other" both score 1.0; ties break by ID.
	if matches[0].ID != "a" || matches[1].ID != "other" || matches[2].ID != "b" {
		t.Fatalf("order wrong: %+v", matches)
	}
	if matches[0].Score != 1 {
		t.Fatalf("self score wrong: %v", matches[0].Score)
	}
}

func TestSearchAppliesFilterAndLimit(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	matches, err := s.Search(ctx, "test", []float32{1, 0}, 10, Filter{"repo_id": int64(2)})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "other" {
		t.Fatalf("filter ignored: %+v", matches)
	}

	matches, _ = s.Search(ctx, "test", []float32{1, 0}, 2, Filter{"repo_id": int64(1)})
	if len(matches) != 2 {
		t.Fatalf("limit ignored: %+v", matches)
	}
}

func TestSearchUnknownCollection(t *testing.T) {
	s := NewMemory()
	if _, err := s.Search(context.Background(), "nope", []float32{1}, 1, nil); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}

func TestGetVectorMissingReturnsNil(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	vec, err := s.GetVector(ctx, "test", "a")
	if err != nil || vec == nil {
		t.Fatalf("existing point: %v %v", vec, err)
	}
	vec, err = s.GetVector(ctx, "test", "missing")
	if err != nil || vec != nil {
		t.Fatalf("missing point should be nil, nil: %v %v", vec, err)
	}
	vec, err = s.GetVector(ctx, "nope", "a")
	if err != nil || vec != nil {
		t.Fatalf("missing collection should be nil, nil: %v %v", vec, err)
	}
}

func TestUpsertReplacesByID(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	err := s.Upsert(ctx, "test", []Point{
		{ID: "a", Vector: []float32{0, 1}, Payload: map[string]any{"repo_id": int64(1)}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	vec, _ := s.GetVector(ctx, "test", "a")
	if vec[0] != 0 || vec[1] != 1 {
		t.Fatalf("replace did not take: %v", vec)
	}
}

func TestDeleteByFilter(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	if err := s.DeleteByFilter(ctx, "test", nil); err == nil {
		t.Fatal("empty filter must be refused")
	}
	if err := s.DeleteByFilter(ctx, "test", Filter{"repo_id": int64(1)}); err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	matches, _ := s.Search(ctx, "test", []float32{1, 0}, 10, nil)
	if len(matches) != 1 || matches[0].ID != "other" {
		t.Fatalf("delete wrong: %+v", matches)
	}
}
