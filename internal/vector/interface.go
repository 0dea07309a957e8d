// Package vector abstracts the similarity store that candidate search runs
// against. Two collections exist per deployment: one for intent-summary
// vectors and one for code-diff vectors.
package vector

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is one search hit, best first. Score is cosine similarity in [-1, 1].
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter restricts a search or delete to points whose payload matches every
// key exactly.
type Filter map[string]any

// Store is a vector similarity store.
type Store interface {
	// EnsureCollection creates the named collection with the given vector
	// size if it does not exist. Idempotent.
	EnsureCollection(ctx context.Context, name string, dims int) error
	// Upsert writes points, replacing any point with the same ID.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the limit nearest points to vec that pass filter.
	Search(ctx context.Context, collection string, vec []float32, limit int, filter Filter) ([]Match, error)
	// GetVector fetches one point's vector, or nil when the point does not
	// exist.
	GetVector(ctx context.Context, collection, id string) ([]float32, error)
	// DeleteByFilter removes every point whose payload matches filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
}

// New creates the configured vector store.
func New(cfg config.VectorConfig) (Store, error) {
	switch cfg.Provider {
	case "", "qdrant":
		return NewQdrant(cfg), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Provider)
	}
}
