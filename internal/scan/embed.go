package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/CosmoTheDev/dupescan-agent/internal/embed"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/vector"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

const (
	codeCollection   = "dupescan_code"
	intentCollection = "dupescan_intent"

	// inputBudgetFraction of the provider's max input tokens is used per
	// text and per sync request.
	inputBudgetFraction = 0.9

	// asyncBatchTokenCap keeps each async chunk's enqueued tokens under the
	// provider org quota (3M for OpenAI batches).
	asyncBatchTokenCap = 2_800_000
)

func pointID(repoID int64, prNumber int, kind string) string {
	return fmt.Sprintf("%d-%d-%s", repoID, prNumber, kind)
}

// embedTask is one PR awaiting its two vectors.
type embedTask struct {
	pr         *models.PR
	hash       string
	codeText   string
	intentText string
	tokens     int64
}

// codeVectorText derives the code-signal text from the changed file paths.
func codeVectorText(pr *models.PR) string {
	paths := pr.FilePaths()
	if len(paths) == 0 {
		return pr.Title
	}
	return strings.Join(paths, "\n")
}

// intentVectorText combines the highest-signal fields for semantic search.
func intentVectorText(pr *models.PR) string {
	var sb strings.Builder
	sb.WriteString(pr.Title)
	sb.WriteString("\n")
	if pr.IntentSummary != nil {
		sb.WriteString(*pr.IntentSummary)
		sb.WriteString("\n")
	}
	sb.WriteString(pr.Body)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(pr.FilePaths(), "\n"))
	return sb.String()
}

// truncateToTokens cuts text so its estimated token count fits budget.
func truncateToTokens(text string, budget int64, count func(string) int64) string {
	if count(text) <= budget {
		return text
	}
	// chars/4 heuristic, then verify.
	cut := int(budget * 4)
	if cut < len(text) {
		text = text[:cut]
	}
	for count(text) > budget && len(text) > 0 {
		text = text[:len(text)*9/10]
	}
	return text
}

// runEmbed computes and stores code and intent vectors for every snapshot PR
// whose embed hash is stale or whose vectors are missing from the store, then
// stamps embed_hash. The phase cursor carries the provider batch id while an
// async chunk is outstanding so a restart resumes polling it.
func (o *Orchestrator) runEmbed(ctx context.Context, scanRow *models.Scan, svc *resolver.Services, prs []*models.PR) error {
	dims := svc.Embedder.Dimensions()
	if err := svc.Vectors.EnsureCollection(ctx, codeCollection, dims); err != nil {
		return err
	}
	if err := svc.Vectors.EnsureCollection(ctx, intentCollection, dims); err != nil {
		return err
	}

	budget := int64(float64(svc.Embedder.MaxInputTokens()) * inputBudgetFraction)

	var tasks []*embedTask
	for _, pr := range prs {
		hash := ContentHash(pr)
		if pr.EmbedHash != nil && *pr.EmbedHash == hash {
			// Hash fresh; trust it only if the vectors actually exist.
			vec, err := svc.Vectors.GetVector(ctx, intentCollection, pointID(pr.RepoID, pr.Number, "intent"))
			if err != nil {
				return err
			}
			if vec != nil {
				continue
			}
		}
		t := &embedTask{
			pr:         pr,
			hash:       hash,
			codeText:   truncateToTokens(codeVectorText(pr), budget, svc.Embedder.CountTokens),
			intentText: truncateToTokens(intentVectorText(pr), budget, svc.Embedder.CountTokens),
		}
		t.tokens = svc.Embedder.CountTokens(t.codeText) + svc.Embedder.CountTokens(t.intentText)
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		slog.Info("Embeddings all cached", "scan", scanRow.ID, "prs", len(prs))
		return nil
	}
	slog.Info("Embedding PRs", "scan", scanRow.ID, "stale", len(tasks), "total", len(prs))

	if svc.EmbedBatch != nil {
		return o.embedAsync(ctx, scanRow, svc, tasks)
	}
	return o.embedSync(ctx, scanRow, svc, tasks, budget)
}

// storeTaskVectors upserts one task's two points and stamps the PR's embed
// hash. Stamping last keeps the hash honest: a crash between upsert and stamp
// re-embeds on the next run.
func (o *Orchestrator) storeTaskVectors(ctx context.Context, svc *resolver.Services, t *embedTask, codeVec, intentVec []float32) error {
	payload := map[string]any{"repo_id": t.pr.RepoID, "pr_number": t.pr.Number}
	err := svc.Vectors.Upsert(ctx, codeCollection, []vector.Point{
		{ID: pointID(t.pr.RepoID, t.pr.Number, "code"), Vector: codeVec, Payload: payload},
	})
	if err != nil {
		return err
	}
	err = svc.Vectors.Upsert(ctx, intentCollection, []vector.Point{
		{ID: pointID(t.pr.RepoID, t.pr.Number, "intent"), Vector: intentVec, Payload: payload},
	})
	if err != nil {
		return err
	}
	if err := o.store.UpdatePREmbedHash(ctx, t.pr.ID, t.hash); err != nil {
		return err
	}
	h := t.hash
	t.pr.EmbedHash = &h
	return nil
}

// embedSync issues synchronous embedding requests, chunked so each request
// stays under the provider's token budget. Code and intent requests for a
// chunk run concurrently.
func (o *Orchestrator) embedSync(ctx context.Context, scanRow *models.Scan, svc *resolver.Services, tasks []*embedTask, requestBudget int64) error {
	var totalTokens int64
	for start := 0; start < len(tasks); {
		end := start
		var chunkTokens int64
		for end < len(tasks) {
			if end > start && chunkTokens+tasks[end].tokens > requestBudget {
				break
			}
			chunkTokens += tasks[end].tokens
			end++
		}
		chunk := tasks[start:end]
		start = end

		codeTexts := make([]string, len(chunk))
		intentTexts := make([]string, len(chunk))
		for i, t := range chunk {
			codeTexts[i] = t.codeText
			intentTexts[i] = t.intentText
		}

		var (
			wg                   sync.WaitGroup
			codeVecs, intentVecs [][]float32
			codeTok, intentTok   int64
			codeErr, intentErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			codeVecs, codeTok, codeErr = svc.Embedder.Embed(ctx, codeTexts)
		}()
		go func() {
			defer wg.Done()
			intentVecs, intentTok, intentErr = svc.Embedder.Embed(ctx, intentTexts)
		}()
		wg.Wait()
		if codeErr != nil {
			return codeErr
		}
		if intentErr != nil {
			return intentErr
		}
		totalTokens += codeTok + intentTok

		for i, t := range chunk {
			if err := o.storeTaskVectors(ctx, svc, t, codeVecs[i], intentVecs[i]); err != nil {
				return err
			}
		}
	}
	return o.store.AddScanTokens(ctx, scanRow.ID, "embed", totalTokens, 0)
}

// embedAsync submits embedding work through the provider's batch API in
// sequential chunks capped by the org token quota. The first chunk resumes an
// outstanding batch from the phase cursor; completed chunks stamp their PRs,
// so on restart they are no longer stale and the chunking realigns.
func (o *Orchestrator) embedAsync(ctx context.Context, scanRow *models.Scan, svc *resolver.Services, tasks []*embedTask) error {
	resume := scanRow.Cursor().EmbedBatchID
	var totalTokens int64

	for start := 0; start < len(tasks); {
		end := start
		var chunkTokens int64
		for end < len(tasks) {
			if end > start && chunkTokens+tasks[end].tokens > asyncBatchTokenCap {
				break
			}
			chunkTokens += tasks[end].tokens
			end++
		}
		chunk := tasks[start:end]
		start = end
		totalTokens += chunkTokens

		items := make([]embed.BatchItem, 0, len(chunk)*2)
		for _, t := range chunk {
			items = append(items,
				embed.BatchItem{ID: pointID(t.pr.RepoID, t.pr.Number, "code"), Text: t.codeText},
				embed.BatchItem{ID: pointID(t.pr.RepoID, t.pr.Number, "intent"), Text: t.intentText},
			)
		}

		results, err := svc.EmbedBatch.EmbedBatch(ctx, items, embed.BatchOptions{
			ExistingBatchID: resume,
			OnCreated: func(batchID string) {
				o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.EmbedBatchID = batchID })
			},
		})
		if err != nil {
			return err
		}
		resume = ""

		vecs := make(map[string][]float32, len(results))
		for _, res := range results {
			if res.Err != "" {
				return fmt.Errorf("embedding batch item %s: %s", res.ID, res.Err)
			}
			vecs[res.ID] = res.Vector
		}
		for _, t := range chunk {
			codeVec := vecs[pointID(t.pr.RepoID, t.pr.Number, "code")]
			intentVec := vecs[pointID(t.pr.RepoID, t.pr.Number, "intent")]
			if codeVec == nil || intentVec == nil {
				return fmt.Errorf("embedding batch returned no vectors for #%d", t.pr.Number)
			}
			if err := o.storeTaskVectors(ctx, svc, t, codeVec, intentVec); err != nil {
				return err
			}
		}
		o.saveCursor(ctx, scanRow, func(c *models.PhaseCursorData) { c.EmbedBatchID = "" })
	}
	return o.store.AddScanTokens(ctx, scanRow.ID, "embed", totalTokens, 0)
}
