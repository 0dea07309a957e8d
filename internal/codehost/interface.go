// Package codehost abstracts the platforms PRs are ingested from. Providers
// list open pull requests, fetch changed file paths, and fetch unified diffs.
package codehost

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors. Handlers branch on these to decide retry behavior:
// ErrRateLimited and ErrTransient are retryable, the rest are not.
var (
	ErrNotFound     = errors.New("codehost: not found")
	ErrRateLimited  = errors.New("codehost: rate limited")
	ErrDiffTooLarge = errors.New("codehost: diff too large")
	ErrTransient    = errors.New("codehost: transient error")
)

// Retryable reports whether err warrants another attempt later.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// PullRequest is the provider-neutral shape of one open PR.
type PullRequest struct {
	Number    int
	Title     string
	Body      string
	Author    string
	State     string
	FilePaths []string
	UpdatedAt time.Time
}

// ListOptions filters a PR listing.
type ListOptions struct {
	// Max caps the number of PRs returned; 0 means no cap.
	Max int
	// Since restricts the listing to PRs updated at or after this time.
	// Zero means all open PRs.
	Since time.Time
}

// Client lists and fetches pull requests from one code-host instance.
type Client interface {
	// Name identifies the platform ("github", "gitlab").
	Name() string
	// ListOpenPRs returns open PRs for owner/repo, newest update first,
	// with FilePaths populated.
	ListOpenPRs(ctx context.Context, owner, repo string, opts ListOptions) ([]PullRequest, error)
	// GetPRDiff fetches the unified diff text for one PR. Returns
	// ErrDiffTooLarge when the provider refuses to render it.
	GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error)
}

// maxDiffBytes is the largest diff we will hold; beyond this the diff hash is
// left null and detection falls back to title, body and file paths.
const maxDiffBytes = 2 << 20
