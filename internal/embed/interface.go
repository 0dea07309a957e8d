// Package embed provides text-embedding providers for the vector phases.
package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

// Provider turns texts into fixed-dimension vectors.
type Provider interface {
	// Name returns the provider identifier ("openai", "ollama").
	Name() string
	// Model returns the embedding model name; vectors from different models
	// are never comparable.
	Model() string
	// Dimensions is the vector length the model produces.
	Dimensions() int
	// MaxInputTokens is the longest input the model accepts; longer texts
	// must be truncated before embedding.
	MaxInputTokens() int64
	// CountTokens estimates the token length of text.
	CountTokens(text string) int64
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, int64, error)
}

// BatchItem is one text inside an asynchronous embedding batch.
type BatchItem struct {
	ID   string
	Text string
}

// BatchResult is one embedded batch item.
type BatchResult struct {
	ID     string
	Vector []float32
	Err    string
}

// BatchOptions mirrors the chat batch options: resume by id, persist on
// creation.
type BatchOptions struct {
	ExistingBatchID string
	OnCreated       func(batchID string)
	PollInterval    time.Duration
}

// BatchProvider is implemented by embedding providers with an asynchronous
// batch API.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, items []BatchItem, opts BatchOptions) ([]BatchResult, error)
}

// Batch poll pacing. Embedding batches get a longer deadline than chat
// batches because the provider completion window is 24h.
const (
	batchPollMax       = 2 * time.Minute
	embedBatchDeadline = 24 * time.Hour
)

// batchPoller paces the status polls for one outstanding batch.
type batchPoller struct {
	interval time.Duration
	max      time.Duration
	budget   time.Duration
	deadline time.Time
}

func newBatchPoller(initial, max, budget time.Duration) *batchPoller {
	return &batchPoller{
		interval: initial,
		max:      max,
		budget:   budget,
		deadline: time.Now().Add(budget),
	}
}

// Wait blocks until the next poll is due. It returns an error once the
// deadline has passed or ctx is cancelled.
func (p *batchPoller) Wait(ctx context.Context, batchID string) error {
	if !time.Now().Before(p.deadline) {
		return fmt.Errorf("batch %s still running after %s, giving up", batchID, p.budget)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.interval):
	}
	p.interval += p.interval / 2
	if p.interval > p.max {
		p.interval = p.max
	}
	return nil
}

// New creates the configured embedding provider.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func estimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}
