package ai

import (
	"context"
	"fmt"
)

// NoopProvider is the placeholder used when no chat provider is configured.
// Every Chat call fails with a pointer at the configuration.
type NoopProvider struct{}

// NewNoop returns the unconfigured placeholder provider.
func NewNoop() *NoopProvider { return &NoopProvider{} }

func (NoopProvider) Name() string { return "none" }

func (NoopProvider) IsAvailable(ctx context.Context) bool { return false }

func (NoopProvider) CountTokens(text string) int64 { return estimateTokens(text) }

func (NoopProvider) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	return "", Usage{}, fmt.Errorf("no chat provider configured; run `dupescan onboard` or set chat.provider")
}
