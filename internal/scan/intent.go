package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/CosmoTheDev/dupescan-agent/internal/ai"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

type intentResponse struct {
	Summary string `json:"summary"`
}

// parseIntent decodes the model's summary JSON; a malformed response falls
// back to using the raw text as the summary.
func parseIntent(content string) string {
	var resp intentResponse
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &resp); err == nil && resp.Summary != "" {
		return resp.Summary
	}
	return content
}

// runIntent computes intent summaries for every snapshot PR whose content
// hash no longer matches its stored embed hash. PRs with a matching hash are
// cache hits and skipped entirely.
func (o *Orchestrator) runIntent(ctx context.Context, scanRow *models.Scan, svc *resolver.Services, repo *models.Repo, prs []*models.PR) error {
	var stale []*models.PR
	for _, pr := range prs {
		if pr.EmbedHash != nil && *pr.EmbedHash == ContentHash(pr) && pr.IntentSummary != nil {
			continue
		}
		stale = append(stale, pr)
	}
	if len(stale) == 0 {
		slog.Info("Intent summaries all cached", "scan", scanRow.ID, "prs", len(prs))
		return nil
	}
	slog.Info("Extracting intent", "scan", scanRow.ID, "stale", len(stale), "total", len(prs))

	// The diff gives the model the strongest signal; tolerate fetch failures
	// and fall back to paths-only prompts.
	client, _ := svc.CodeHost(repo.Provider)
	prompts := make(map[int]string, len(stale))
	for _, pr := range stale {
		diff := ""
		if client != nil {
			diff = fetchDiff(ctx, client, repo.Owner, repo.Name, pr.Number)
		}
		prompts[pr.Number] = intentPrompt(pr, diff)
	}

	var usage ai.Usage
	summaries := make(map[int]string, len(stale))

	if svc.ChatBatch != nil && len(stale) > 1 {
		items := make([]ai.BatchItem, 0, len(stale))
		for _, pr := range stale {
			items = append(items, ai.BatchItem{
				ID:     strconv.Itoa(pr.Number),
				System: intentSystemPrompt,
				User:   prompts[pr.Number],
			})
		}
		results, err := svc.ChatBatch.ChatBatch(ctx, items, ai.BatchOptions{
			ExistingBatchID: scanRow.Cursor().IntentBatchID,
			OnCreated: func(batchID string) {
				o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.IntentBatchID = batchID })
			},
		})
		if err != nil {
			return err
		}
		for _, res := range results {
			num, convErr := strconv.Atoi(res.ID)
			if convErr != nil {
				continue
			}
			usage.Add(res.Usage)
			if res.Err != "" {
				return fmt.Errorf("intent batch item #%d: %s", num, res.Err)
			}
			summaries[num] = parseIntent(res.Content)
		}
		o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.IntentBatchID = "" })
	} else {
		for _, pr := range stale {
			content, u, err := svc.Chat.Chat(ctx, intentSystemPrompt, prompts[pr.Number])
			usage.Add(u)
			if err != nil {
				return fmt.Errorf("summarising #%d: %w", pr.Number, err)
			}
			summaries[pr.Number] = parseIntent(content)
		}
	}

	for _, pr := range stale {
		summary, ok := summaries[pr.Number]
		if !ok {
			return fmt.Errorf("no intent summary returned for #%d", pr.Number)
		}
		if err := o.store.UpdatePRIntentSummary(ctx, pr.ID, summary); err != nil {
			return err
		}
		s := summary
		pr.IntentSummary = &s
	}

	return o.store.AddScanTokens(ctx, scanRow.ID, "intent", usage.InputTokens, usage.OutputTokens)
}

// saveCursor mutates and persists the scan's phase cursor, keeping the
// in-memory copy in sync.
func (o *Orchestrator) saveCursor(ctx context.Context, scanRow *models.Scan, mutate func(*models.PhaseCursorData)) {
	c := scanRow.Cursor()
	mutate(&c)
	scanRow.PhaseCursor = models.EncodeCursor(c)
	if err := o.store.SetScanCursor(ctx, scanRow.ID, scanRow.PhaseCursor); err != nil {
		slog.Error("Persisting phase cursor failed", "scan", scanRow.ID, "error", err)
	}
}
