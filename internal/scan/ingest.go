package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/codehost"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// runIngest lists PRs from the code host and persists snapshots, returning
// the PR numbers that form this scan's detection snapshot.
//
// Full mode lists all open PRs (up to MaxPRs) and reconciles closures via
// markStale. Incremental mode lists only PRs updated since the watermark and
// does not reconcile closures; the snapshot is then every PR still open in
// the store so new arrivals are compared against existing ones.
func (o *Orchestrator) runIngest(ctx context.Context, svc *resolver.Services, payload models.IngestJobPayload) ([]int, error) {
	repo, err := o.store.GetRepo(ctx, payload.RepoID)
	if err != nil {
		return nil, err
	}
	client, err := svc.CodeHost(repo.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolving code host: %w", err)
	}

	opts := codehost.ListOptions{Max: payload.MaxPRs}
	if opts.Max <= 0 {
		opts.Max = o.cfg.MaxPRs
	}
	if !payload.Full && payload.LastScanAt != "" {
		since, err := time.Parse(time.RFC3339, payload.LastScanAt)
		if err != nil {
			return nil, fmt.Errorf("parsing last_scan_at %q: %w", payload.LastScanAt, err)
		}
		opts.Since = since
	}

	fetched, err := client.ListOpenPRs(ctx, repo.Owner, repo.Name, opts)
	if err != nil {
		return nil, fmt.Errorf("listing PRs: %w", err)
	}

	fetchedOpen := make([]int, 0, len(fetched))
	for _, pr := range fetched {
		if pr.State == models.PRStateOpen {
			fetchedOpen = append(fetchedOpen, pr.Number)
		}

		updatedAt := pr.UpdatedAt.UTC().Format(time.RFC3339)
		existing, err := o.store.GetPR(ctx, repo.ID, pr.Number)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if existing != nil && existing.UpdatedAt == updatedAt {
			continue
		}

		var diffHash *string
		diff, err := client.GetPRDiff(ctx, repo.Owner, repo.Name, pr.Number)
		switch {
		case errors.Is(err, codehost.ErrDiffTooLarge):
			// Detection falls back to title, body and file paths.
			slog.Info("Diff too large, skipping hash", "repo", repo.FullName(), "pr", pr.Number)
		case err != nil:
			return nil, fmt.Errorf("fetching diff for #%d: %w", pr.Number, err)
		default:
			h := DiffHash(diff)
			diffHash = &h
		}

		if _, err := o.store.UpsertPR(ctx, store.UpsertPRInput{
			RepoID:    repo.ID,
			Number:    pr.Number,
			Title:     pr.Title,
			Body:      pr.Body,
			Author:    pr.Author,
			State:     pr.State,
			FilePaths: pr.FilePaths,
			DiffHash:  diffHash,
			UpdatedAt: updatedAt,
		}); err != nil {
			return nil, err
		}
	}

	if payload.Full {
		closed, err := o.store.MarkStalePRsClosed(ctx, repo.ID, fetchedOpen)
		if err != nil {
			return nil, fmt.Errorf("marking stale PRs: %w", err)
		}
		if closed > 0 {
			slog.Info("Closed stale PRs", "repo", repo.FullName(), "count", closed)
		}
		sort.Ints(fetchedOpen)
		return fetchedOpen, nil
	}

	open, err := o.store.ListOpenPRs(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	numbers := make([]int, 0, len(open))
	for _, pr := range open {
		numbers = append(numbers, pr.Number)
	}
	return numbers, nil
}
