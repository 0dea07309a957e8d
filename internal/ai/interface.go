// Package ai provides chat-completion providers used by the intent,
// verification and ranking phases. Providers expose a synchronous Chat call;
// those with an asynchronous batch API additionally implement
// BatchChatProvider so large scans can submit hundreds of prompts at half the
// per-token cost and survive restarts while the batch runs remotely.
//
// To add a new provider:
//  1. Create a file in internal/ai/ (e.g. mymodel.go)
//  2. Implement ChatProvider
//  3. Register in New()
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

// Usage counts the tokens one call consumed.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ChatProvider abstracts a chat-completion model.
type ChatProvider interface {
	// Name returns the provider identifier (e.g. "anthropic", "ollama").
	Name() string

	// IsAvailable verifies the provider is reachable and configured.
	IsAvailable(ctx context.Context) bool

	// CountTokens estimates the token length of text. Estimates feed batch
	// chunking, so they must err on the high side rather than the low side.
	CountTokens(text string) int64

	// Chat sends one system+user prompt pair and returns the assistant text.
	Chat(ctx context.Context, system, user string) (string, Usage, error)
}

// BatchItem is one prompt inside an asynchronous batch. ID must be unique
// within the batch; results are matched back to it.
type BatchItem struct {
	ID     string
	System string
	User   string
}

// BatchResult is one completed batch item. Err is non-empty when the
// provider failed that item; the rest of the batch is unaffected.
type BatchResult struct {
	ID      string
	Content string
	Usage   Usage
	Err     string
}

// BatchOptions controls batch submission and resumption.
type BatchOptions struct {
	// ExistingBatchID resumes polling a batch submitted before a restart
	// instead of submitting a new one.
	ExistingBatchID string
	// OnCreated is invoked with the provider batch id right after
	// submission, before the first poll. Callers persist it so a crash
	// mid-poll does not orphan the batch.
	OnCreated func(batchID string)
	// PollInterval overrides the provider's default polling cadence.
	PollInterval time.Duration
}

// BatchChatProvider is implemented by providers with an asynchronous batch
// API. ChatBatch blocks until every item has a result.
type BatchChatProvider interface {
	ChatProvider
	ChatBatch(ctx context.Context, items []BatchItem, opts BatchOptions) ([]BatchResult, error)
}

// Batch poll pacing. The wait between status polls grows by half each poll,
// capped at batchPollMax; a batch still running past chatBatchDeadline fails
// the phase instead of holding a worker forever.
const (
	batchPollMax      = 2 * time.Minute
	chatBatchDeadline = 4 * time.Hour
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

// New creates the configured chat provider.
func New(cfg config.ChatConfig) (ChatProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "", "none":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

// estimateTokens is the shared chars/4 heuristic, rounded up.
func estimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}
