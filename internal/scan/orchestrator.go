// Package scan is the duplicate-detection pipeline: ingest, intent
// extraction, embedding, candidate search, pairwise verification, clique
// grouping and ranking. The Orchestrator sequences the phases as queue jobs
// and owns the scan state machine.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/codehost"
	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/queue"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/internal/worker"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// Orchestrator drives scans through the pipeline. An ingest job produces the
// PR snapshot; a detect job then runs intent, embedding, candidate search,
// verification, grouping and ranking inline, with the scan status advanced
// between phases so progress is externally visible.
type Orchestrator struct {
	store    *store.Store
	queue    *queue.Queue
	resolver *resolver.Resolver
	cfg      config.DetectConfig
}

// New builds an Orchestrator.
func New(st *store.Store, q *queue.Queue, res *resolver.Resolver, cfg config.DetectConfig) *Orchestrator {
	if cfg.NeighborK <= 0 {
		cfg.NeighborK = 5
	}
	if cfg.IntentThreshold <= 0 {
		cfg.IntentThreshold = 0.65
	}
	if cfg.CodeThreshold <= 0 {
		cfg.CodeThreshold = 0.85
	}
	return &Orchestrator{store: st, queue: q, resolver: res, cfg: cfg}
}

// Register installs the orchestrator's job handlers on the pool.
func (o *Orchestrator) Register(pool *worker.Pool) {
	pool.Register(models.JobTypeScan, o.HandleScan)
	pool.Register(models.JobTypeIngest, o.HandleIngest)
	pool.Register(models.JobTypeDetect, o.HandleDetect)
}

// StartScan creates a scan for (repo, account) and enqueues its ingest job.
// When a scan is already active for the pair, that scan is returned instead
// of creating a second one.
func (o *Orchestrator) StartScan(ctx context.Context, repoID, accountID int64, full bool, maxPRs int) (*models.Scan, error) {
	repo, err := o.store.GetRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("starting scan: %w", err)
	}
	if _, err := o.store.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("starting scan: %w", err)
	}

	// Incremental mode needs a watermark; without one the scan is full.
	lastScanAt := ""
	if !full {
		if repo.LastScanAt == nil || *repo.LastScanAt == "" {
			full = true
		} else {
			lastScanAt = *repo.LastScanAt
		}
	}

	scanRow, err := o.store.CreateScan(ctx, repoID, accountID, full, "")
	if err != nil {
		if errors.Is(err, store.ErrScanActive) {
			return o.store.ActiveScan(ctx, repoID, accountID)
		}
		return nil, err
	}

	payload := models.IngestJobPayload{
		ScanJobPayload: models.ScanJobPayload{
			ScanID:    scanRow.ID,
			RepoID:    repoID,
			AccountID: accountID,
			Full:      full,
			MaxPRs:    maxPRs,
		},
		LastScanAt: lastScanAt,
	}
	if _, err := o.queue.Enqueue(ctx, models.JobTypeIngest, &scanRow.ID, payload); err != nil {
		o.failScan(ctx, scanRow.ID, err)
		return nil, fmt.Errorf("enqueueing ingest: %w", err)
	}
	slog.Info("Scan queued", "scan", scanRow.ID, "repo", repo.FullName(), "full", full)
	return scanRow, nil
}

// HandleScan is the deferred kickoff used by the cron scheduler and the
// gateway: the payload names (repo, account) and StartScan does the rest.
func (o *Orchestrator) HandleScan(ctx context.Context, job *models.Job) error {
	var payload models.ScanJobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("%w: decoding scan payload: %v", worker.ErrPermanent, err)
	}
	_, err := o.StartScan(ctx, payload.RepoID, payload.AccountID, payload.Full, payload.MaxPRs)
	return err
}

// failScan marks the scan failed, records the error and clears the phase
// cursor so a later manual rerun starts fresh.
func (o *Orchestrator) failScan(ctx context.Context, scanID int64, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	completed := time.Now().UTC().Format(time.RFC3339)
	empty := ""
	err := o.store.UpdateScanStatus(ctx, scanID, models.ScanStatusFailed, store.ScanUpdate{
		ErrorMsg:    &msg,
		CompletedAt: &completed,
		PhaseCursor: &empty,
	})
	if err != nil {
		slog.Error("Recording scan failure failed", "scan", scanID, "error", err)
	}
	slog.Error("Scan failed", "scan", scanID, "error", msg)
}

// phaseErr classifies a phase failure. Retryable errors are returned to the
// queue with the phase cursor intact so a later attempt resumes any
// outstanding batch; on the final attempt, or for permanent errors, the scan
// is failed.
func (o *Orchestrator) phaseErr(ctx context.Context, job *models.Job, scanID int64, err error) error {
	if errors.Is(err, worker.ErrPermanent) {
		o.failScan(ctx, scanID, err)
		return err
	}
	if job.Attempts > job.MaxRetries {
		o.failScan(ctx, scanID, err)
	}
	return err
}

func (o *Orchestrator) setStatus(ctx context.Context, scanID int64, status string) error {
	return o.store.UpdateScanStatus(ctx, scanID, status, store.ScanUpdate{})
}

// loadScanForJob loads the scan a job refers to. Terminal scans return nil:
// a redelivered job for a finished scan is a no-op, which is what makes
// at-least-once delivery safe at the scan level.
func (o *Orchestrator) loadScanForJob(ctx context.Context, scanID int64) (*models.Scan, error) {
	scanRow, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !models.ScanActive(scanRow.Status) {
		return nil, nil
	}
	return scanRow, nil
}

// HandleIngest runs the ingest phase and enqueues detection.
func (o *Orchestrator) HandleIngest(ctx context.Context, job *models.Job) error {
	var payload models.IngestJobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("%w: decoding ingest payload: %v", worker.ErrPermanent, err)
	}

	scanRow, err := o.loadScanForJob(ctx, payload.ScanID)
	if err != nil || scanRow == nil {
		return err
	}
	if err := o.setStatus(ctx, scanRow.ID, models.ScanStatusIngesting); err != nil {
		return err
	}

	svc, err := o.resolver.For(ctx, payload.AccountID)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("%w: %v", worker.ErrPermanent, err))
	}

	snapshot, err := o.runIngest(ctx, svc, payload)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("ingest: %w", err))
	}

	prCount := len(snapshot)
	if err := o.store.UpdateScanStatus(ctx, scanRow.ID, models.ScanStatusIngesting,
		store.ScanUpdate{PRCount: &prCount}); err != nil {
		return err
	}

	detectPayload := models.DetectJobPayload{
		ScanJobPayload: payload.ScanJobPayload,
		PRNumbers:      snapshot,
	}
	if _, err := o.queue.Enqueue(ctx, models.JobTypeDetect, &scanRow.ID, detectPayload); err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("enqueueing detect: %w", err))
	}
	slog.Info("Ingest complete", "scan", scanRow.ID, "prs", prCount)
	return nil
}

// HandleDetect runs intent extraction, embedding, candidate search,
// verification, grouping and ranking for one scan.
func (o *Orchestrator) HandleDetect(ctx context.Context, job *models.Job) error {
	var payload models.DetectJobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("%w: decoding detect payload: %v", worker.ErrPermanent, err)
	}

	scanRow, err := o.loadScanForJob(ctx, payload.ScanID)
	if err != nil || scanRow == nil {
		return err
	}

	svc, err := o.resolver.For(ctx, payload.AccountID)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("%w: %v", worker.ErrPermanent, err))
	}
	repo, err := o.store.GetRepo(ctx, payload.RepoID)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, err)
	}

	prs, err := o.snapshotPRs(ctx, payload.RepoID, payload.PRNumbers)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, err)
	}

	// Intent + embedding run under the "embedding" status.
	if err := o.setStatus(ctx, scanRow.ID, models.ScanStatusEmbedding); err != nil {
		return err
	}
	if err := o.runIntent(ctx, scanRow, svc, repo, prs); err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("intent: %w", err))
	}
	if err := o.runEmbed(ctx, scanRow, svc, prs); err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("embed: %w", err))
	}

	if err := o.setStatus(ctx, scanRow.ID, models.ScanStatusDetecting); err != nil {
		return err
	}
	pairs, err := o.runCandidates(ctx, svc, prs)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("candidates: %w", err))
	}

	if err := o.setStatus(ctx, scanRow.ID, models.ScanStatusVerifying); err != nil {
		return err
	}
	verdicts, err := o.runVerify(ctx, scanRow, svc, prs, pairs)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("verify: %w", err))
	}
	seeds := groupVerdicts(verdicts)

	if err := o.setStatus(ctx, scanRow.ID, models.ScanStatusRanking); err != nil {
		return err
	}
	groupCount, err := o.runRank(ctx, scanRow, svc, prs, seeds)
	if err != nil {
		return o.phaseErr(ctx, job, scanRow.ID, fmt.Errorf("rank: %w", err))
	}

	completed := time.Now().UTC().Format(time.RFC3339)
	empty := ""
	if err := o.store.UpdateScanStatus(ctx, scanRow.ID, models.ScanStatusDone, store.ScanUpdate{
		DupeGroupCount: &groupCount,
		CompletedAt:    &completed,
		PhaseCursor:    &empty,
	}); err != nil {
		return err
	}
	if err := o.store.SetRepoLastScanAt(ctx, payload.RepoID, scanRow.StartedAt); err != nil {
		return err
	}
	slog.Info("Scan done", "scan", scanRow.ID, "prs", len(prs), "groups", groupCount)
	return nil
}

// snapshotPRs loads the scan's PR snapshot, keeping only PRs still open.
func (o *Orchestrator) snapshotPRs(ctx context.Context, repoID int64, numbers []int) ([]*models.PR, error) {
	rows, err := o.store.ListPRsByNumbers(ctx, repoID, numbers)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot PRs: %w", err)
	}
	out := make([]*models.PR, 0, len(rows))
	for i := range rows {
		if rows[i].State == models.PRStateOpen {
			out = append(out, &rows[i])
		}
	}
	return out, nil
}

// fetchDiff fetches and normalizes a PR's diff. Failures degrade to an empty
// diff rather than failing the caller; ErrDiffTooLarge is expected for big
// PRs.
func fetchDiff(ctx context.Context, client codehost.Client, owner, name string, number int) string {
	diff, err := client.GetPRDiff(ctx, owner, name, number)
	if err != nil {
		if !errors.Is(err, codehost.ErrDiffTooLarge) {
			slog.Warn("Diff fetch failed", "pr", number, "error", err)
		}
		return ""
	}
	return NormalizeDiff(diff)
}
