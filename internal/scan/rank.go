package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/ai"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

type rankResponse struct {
	Ranking []struct {
		PRNumber  int     `json:"prNumber"`
		Score     float64 `json:"score"`
		Rationale string  `json:"rationale"`
	} `json:"ranking"`
}

// buildMembers turns one model ranking into ordered group members. Responses
// are treated defensively: numbers outside the group are dropped, duplicates
// keep their first occurrence, and members the model omitted are appended
// with a zero score so the group stays complete.
func buildMembers(seed groupSeed, content string, parseFailed bool) []models.DupeGroupMember {
	inGroup := make(map[int]bool, len(seed.members))
	for _, n := range seed.members {
		inGroup[n] = true
	}

	var ranked []models.DupeGroupMember
	seen := make(map[int]bool)

	if !parseFailed {
		var resp rankResponse
		if err := json.Unmarshal([]byte(stripCodeFence(content)), &resp); err != nil {
			parseFailed = true
		} else {
			for _, r := range resp.Ranking {
				if !inGroup[r.PRNumber] || seen[r.PRNumber] {
					continue
				}
				seen[r.PRNumber] = true
				ranked = append(ranked, models.DupeGroupMember{
					PRNumber:  r.PRNumber,
					Score:     r.Score,
					Rationale: r.Rationale,
				})
			}
		}
	}

	for _, n := range seed.members {
		if !seen[n] {
			rationale := "not ranked by model"
			if parseFailed {
				rationale = "ranking response unparseable"
			}
			ranked = append(ranked, models.DupeGroupMember{PRNumber: n, Rationale: rationale})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].PRNumber < ranked[j].PRNumber
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// groupLabel derives the short human-readable label from the first member's
// intent summary.
func groupLabel(seed groupSeed, byNumber map[int]*models.PR) string {
	for _, n := range seed.members {
		pr := byNumber[n]
		if pr == nil {
			continue
		}
		if pr.IntentSummary != nil && *pr.IntentSummary != "" {
			label := *pr.IntentSummary
			if idx := strings.IndexAny(label, ".\n"); idx > 0 {
				label = label[:idx]
			}
			return truncate(label, 120)
		}
		return truncate(pr.Title, 120)
	}
	return "duplicate group"
}

// runRank ranks each duplicate group's members by merge preference and
// persists the groups. Ranking always runs, even on a fully warm cache, and
// writes are delete-then-insert per scan so retries never double the rows.
func (o *Orchestrator) runRank(ctx context.Context, scanRow *models.Scan, svc *resolver.Services, prs []*models.PR, seeds []groupSeed) (int, error) {
	byNumber := make(map[int]*models.PR, len(prs))
	for _, pr := range prs {
		byNumber[pr.Number] = pr
	}

	if len(seeds) == 0 {
		return 0, o.store.ReplaceDupeGroups(ctx, scanRow.ID, nil)
	}

	prompts := make([]string, len(seeds))
	for i, seed := range seeds {
		members := make([]*models.PR, 0, len(seed.members))
		for _, n := range seed.members {
			if pr := byNumber[n]; pr != nil {
				members = append(members, pr)
			}
		}
		prompts[i] = rankPrompt(members)
	}

	var usage ai.Usage
	contents := make([]string, len(seeds))
	failed := make([]bool, len(seeds))

	if svc.ChatBatch != nil && len(seeds) > 1 {
		items := make([]ai.BatchItem, len(seeds))
		for i := range seeds {
			items[i] = ai.BatchItem{ID: strconv.Itoa(i), System: rankSystemPrompt, User: prompts[i]}
		}
		results, err := svc.ChatBatch.ChatBatch(ctx, items, ai.BatchOptions{
			ExistingBatchID: scanRow.Cursor().RankBatchID,
			OnCreated: func(batchID string) {
				o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.RankBatchID = batchID })
			},
		})
		if err != nil {
			return 0, err
		}
		for _, res := range results {
			idx, convErr := strconv.Atoi(res.ID)
			if convErr != nil || idx < 0 || idx >= len(seeds) {
				continue
			}
			usage.Add(res.Usage)
			if res.Err != "" {
				failed[idx] = true
				slog.Warn("Ranking batch item failed", "group", idx, "error", res.Err)
				continue
			}
			contents[idx] = res.Content
		}
		o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.RankBatchID = "" })
	} else {
		for i := range seeds {
			content, u, err := svc.Chat.Chat(ctx, rankSystemPrompt, prompts[i])
			usage.Add(u)
			if err != nil {
				failed[i] = true
				slog.Warn("Ranking call failed", "group", i, "error", err)
				continue
			}
			contents[i] = content
		}
	}

	groups := make([]store.GroupWithMembers, 0, len(seeds))
	for i, seed := range seeds {
		groups = append(groups, store.GroupWithMembers{
			Group: models.DupeGroup{
				Label:        groupLabel(seed, byNumber),
				Confidence:   seed.confidence,
				Relationship: seed.relationship,
			},
			Members: buildMembers(seed, contents[i], failed[i]),
		})
	}
	if err := o.store.ReplaceDupeGroups(ctx, scanRow.ID, groups); err != nil {
		return 0, fmt.Errorf("writing groups: %w", err)
	}
	if err := o.store.AddScanTokens(ctx, scanRow.ID, "rank", usage.InputTokens, usage.OutputTokens); err != nil {
		return 0, err
	}
	return len(groups), nil
}
