package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/dupescan-agent/internal/ai"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

type verifyResponse struct {
	IsDuplicate  bool    `json:"isDuplicate"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship"`
	Rationale    string  `json:"rationale"`
}

// parseVerdict decodes a model verdict for the pair (a, b). Malformed JSON
// yields a parse_error verdict rather than an error; a single bad response
// must not abort the phase.
func parseVerdict(a, b int, content string) models.PairVerdict {
	var resp verifyResponse
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &resp); err != nil {
		return models.PairVerdict{
			PRA: a, PRB: b,
			Relationship: models.RelParseError,
			Rationale:    truncate(content, 500),
		}
	}
	if resp.Relationship == "" {
		resp.Relationship = models.RelUnrelated
		if resp.IsDuplicate {
			resp.Relationship = models.RelNearDuplicate
		}
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	return models.PairVerdict{
		PRA: a, PRB: b,
		IsDuplicate:  resp.IsDuplicate,
		Confidence:   resp.Confidence,
		Relationship: resp.Relationship,
		Rationale:    resp.Rationale,
	}
}

func errVerdict(a, b int, err error) models.PairVerdict {
	return models.PairVerdict{
		PRA: a, PRB: b,
		Relationship: models.RelError,
		Rationale:    err.Error(),
	}
}

// runVerify produces a verdict for every candidate pair, consulting the
// pairwise cache first. A cache hit requires both stored hashes to match the
// PRs' current embed hashes exactly. Fresh verdicts (including negatives) are
// written back to the cache; error verdicts are not.
func (o *Orchestrator) runVerify(ctx context.Context, scanRow *models.Scan, svc *resolver.Services, prs []*models.PR, pairs [][2]int) ([]models.PairVerdict, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	byNumber := make(map[int]*models.PR, len(prs))
	for _, pr := range prs {
		byNumber[pr.Number] = pr
	}

	cached, err := o.store.GetPairwiseVerdicts(ctx, scanRow.RepoID, pairs)
	if err != nil {
		return nil, err
	}

	hash := func(pr *models.PR) string {
		if pr.EmbedHash == nil {
			return ""
		}
		return *pr.EmbedHash
	}

	var (
		verdicts []models.PairVerdict
		misses   [][2]int
	)
	for _, p := range pairs {
		a, b := byNumber[p[0]], byNumber[p[1]]
		if a == nil || b == nil {
			continue
		}
		entry, ok := cached[store.PairKey(p[0], p[1])]
		if ok && hash(a) != "" && entry.HashA == hash(a) && entry.HashB == hash(b) {
			verdicts = append(verdicts, models.PairVerdict{
				PRA: p[0], PRB: p[1],
				IsDuplicate:  entry.IsDuplicate,
				Confidence:   entry.Confidence,
				Relationship: entry.Relationship,
				Rationale:    entry.Rationale,
			})
			continue
		}
		misses = append(misses, p)
	}
	slog.Info("Verifying pairs", "scan", scanRow.ID,
		"pairs", len(pairs), "cached", len(pairs)-len(misses))

	var usage ai.Usage
	fresh := make([]models.PairVerdict, 0, len(misses))

	if svc.ChatBatch != nil && len(misses) > 1 {
		items := make([]ai.BatchItem, 0, len(misses))
		for _, p := range misses {
			items = append(items, ai.BatchItem{
				ID:     store.PairKey(p[0], p[1]),
				System: verifySystemPrompt,
				User:   verifyPrompt(byNumber[p[0]], byNumber[p[1]]),
			})
		}
		results, err := svc.ChatBatch.ChatBatch(ctx, items, ai.BatchOptions{
			ExistingBatchID: scanRow.Cursor().VerifyBatchID,
			OnCreated: func(batchID string) {
				o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.VerifyBatchID = batchID })
			},
		})
		if err != nil {
			return nil, err
		}
		byKey := make(map[string]ai.BatchResult, len(results))
		for _, res := range results {
			usage.Add(res.Usage)
			byKey[res.ID] = res
		}
		for _, p := range misses {
			res, ok := byKey[store.PairKey(p[0], p[1])]
			switch {
			case !ok:
				fresh = append(fresh, errVerdict(p[0], p[1], fmt.Errorf("no batch result")))
			case res.Err != "":
				fresh = append(fresh, errVerdict(p[0], p[1], fmt.Errorf("%s", res.Err)))
			default:
				fresh = append(fresh, parseVerdict(p[0], p[1], res.Content))
			}
		}
		o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.VerifyBatchID = "" })
	} else {
		for _, p := range misses {
			content, u, err := svc.Chat.Chat(ctx, verifySystemPrompt, verifyPrompt(byNumber[p[0]], byNumber[p[1]]))
			usage.Add(u)
			if err != nil {
				fresh = append(fresh, errVerdict(p[0], p[1], err))
				continue
			}
			fresh = append(fresh, parseVerdict(p[0], p[1], content))
		}
	}

	entries := make([]models.PairwiseCacheEntry, 0, len(fresh))
	for _, v := range fresh {
		a, b := byNumber[v.PRA], byNumber[v.PRB]
		if hash(a) == "" || hash(b) == "" {
			continue
		}
		entries = append(entries, models.PairwiseCacheEntry{
			RepoID:       scanRow.RepoID,
			PRANumber:    v.PRA,
			PRBNumber:    v.PRB,
			HashA:        hash(a),
			HashB:        hash(b),
			IsDuplicate:  v.IsDuplicate,
			Confidence:   v.Confidence,
			Relationship: v.Relationship,
			Rationale:    v.Rationale,
		})
	}
	if err := o.store.PutPairwiseVerdicts(ctx, scanRow.RepoID, entries); err != nil {
		return nil, err
	}
	if err := o.store.AddScanTokens(ctx, scanRow.ID, "verify", usage.InputTokens, usage.OutputTokens); err != nil {
		return nil, err
	}
	return append(verdicts, fresh...), nil
}
