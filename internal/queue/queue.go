// Package queue is the durable job queue backing the worker pool. Jobs live
// in the database, so queued work survives restarts and any process attached
// to the same database can claim it. Delivery is at-least-once.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// ErrEmpty is returned by Dequeue when no claimable job exists.
var ErrEmpty = errors.New("queue: no claimable jobs")

const (
	defaultMaxRetries = 3
	backoffBase       = 5 * time.Second
	backoffCap        = 10 * time.Minute
)

// Queue provides enqueue, claim and completion over the jobs table.
type Queue struct {
	db database.DB
}

// New returns a Queue over db.
func New(db database.DB) *Queue {
	return &Queue{db: db}
}

func nowUTC() time.Time { return time.Now().UTC() }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

const jobCols = `id, scan_id, type, payload, status, attempts, max_retries,
	run_after, error_msg, created_at, started_at, completed_at`

// Enqueue inserts a queued job of the given type. payload is marshalled to
// JSON; scanID may be nil for jobs not tied to a scan.
func (q *Queue) Enqueue(ctx context.Context, jobType string, scanID *int64, payload any) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	job := models.Job{
		ScanID:      scanID,
		Type:        jobType,
		PayloadJSON: string(data),
		Status:      models.JobStatusQueued,
		MaxRetries:  defaultMaxRetries,
		RunAfter:    fmtTime(nowUTC()),
		CreatedAt:   fmtTime(nowUTC()),
	}
	id, err := q.db.Insert(ctx, "jobs", job)
	if err != nil {
		return nil, fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	job.ID = id
	return &job, nil
}

// Dequeue claims the oldest queued job whose run_after has elapsed. The claim
// is a conditional update checked by affected rows, so two workers polling
// concurrently can never claim the same job; the loser retries the next
// candidate. Returns ErrEmpty when nothing is claimable.
func (q *Queue) Dequeue(ctx context.Context) (*models.Job, error) {
	cutoff := fmtTime(nowUTC())
	for {
		var job models.Job
		err := q.db.Get(ctx, &job,
			`SELECT `+jobCols+` FROM jobs
			 WHERE status = ? AND run_after <= ?
			 ORDER BY run_after, id LIMIT 1`,
			models.JobStatusQueued, cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("selecting job: %w", err)
		}

		started := fmtTime(nowUTC())
		n, err := q.db.ExecRows(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, started_at = ?
			 WHERE id = ? AND status = ?`,
			models.JobStatusRunning, started, job.ID, models.JobStatusQueued)
		if err != nil {
			return nil, fmt.Errorf("claiming job %d: %w", job.ID, err)
		}
		if n == 0 {
			// Lost the race; another worker claimed it first.
			continue
		}
		job.Status = models.JobStatusRunning
		job.Attempts++
		job.StartedAt = &started
		return &job, nil
	}
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	done := fmtTime(nowUTC())
	return q.db.Exec(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, error_msg = '' WHERE id = ?`,
		models.JobStatusDone, done, jobID)
}

// Fail records a job failure. While attempts remain the job is requeued with
// exponential backoff plus jitter; once retries are exhausted it is marked
// failed permanently. Returns true when the job will retry.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if job.Attempts <= job.MaxRetries {
		delay := Backoff(job.Attempts)
		runAfter := fmtTime(nowUTC().Add(delay))
		err := q.db.Exec(ctx,
			`UPDATE jobs SET status = ?, run_after = ?, error_msg = ? WHERE id = ?`,
			models.JobStatusQueued, runAfter, msg, job.ID)
		if err != nil {
			return false, fmt.Errorf("requeueing job %d: %w", job.ID, err)
		}
		return true, nil
	}
	done := fmtTime(nowUTC())
	err := q.db.Exec(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, error_msg = ? WHERE id = ?`,
		models.JobStatusFailed, done, msg, job.ID)
	if err != nil {
		return false, fmt.Errorf("failing job %d: %w", job.ID, err)
	}
	return false, nil
}

// FailPermanent marks a job failed immediately, bypassing the retry budget.
// Used for errors that retrying cannot fix.
func (q *Queue) FailPermanent(ctx context.Context, jobID int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	done := fmtTime(nowUTC())
	return q.db.Exec(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, error_msg = ? WHERE id = ?`,
		models.JobStatusFailed, done, msg, jobID)
}

// Backoff returns the retry delay after the given attempt count: an
// exponential base doubled per attempt with up to 25% random jitter, capped.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := backoffBase << uint(attempts-1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d+jitter > backoffCap {
		return backoffCap
	}
	return d + jitter
}

// RequeueStale flips running jobs whose claim is older than staleAfter back
// to queued. Covers workers that died mid-job; combined with idempotent
// handlers this is what makes delivery at-least-once rather than at-most-once.
func (q *Queue) RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := fmtTime(nowUTC().Add(-staleAfter))
	return q.db.ExecRows(ctx,
		`UPDATE jobs SET status = ?, run_after = ?
		 WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		models.JobStatusQueued, fmtTime(nowUTC()),
		models.JobStatusRunning, cutoff)
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id int64) (*models.Job, error) {
	var job models.Job
	err := q.db.Get(ctx, &job, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.Job
	if status != "" {
		err := q.db.Select(ctx, &out,
			`SELECT `+jobCols+` FROM jobs WHERE status = ? ORDER BY id DESC LIMIT ?`,
			status, limit)
		return out, err
	}
	err := q.db.Select(ctx, &out,
		`SELECT `+jobCols+` FROM jobs ORDER BY id DESC LIMIT ?`, limit)
	return out, err
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	type row struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	var rows []row
	err := q.db.Select(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
