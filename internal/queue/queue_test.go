package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.JobTypeScan, nil, models.ScanJobPayload{RepoID: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, models.JobTypeScan, nil, models.ScanJobPayload{RepoID: 2})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected job %d first, got %d", first.ID, got.ID)
	}
	if got.Status != models.JobStatusRunning || got.Attempts != 1 {
		t.Fatalf("claim did not update job: %+v", got)
	}

	got, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue second: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("expected job %d second, got %d", second.ID, got.ID)
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestDequeueClaimIsExclusive(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, models.JobTypeIngest, nil, struct{}{})

	claimed, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if claimed.ID != job.ID {
		t.Fatalf("wrong job claimed: %d", claimed.ID)
	}
	// A running job is invisible to further claims.
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("running job re-claimed: %v", err)
	}
}

func TestFailRequeuesUntilRetriesExhausted(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, models.JobTypeDetect, nil, struct{}{})

	var job *models.Job
	for attempt := 1; attempt <= defaultMaxRetries+1; attempt++ {
		// Pull run_after forward so the retry is claimable immediately.
		if attempt > 1 {
			if err := q.db.Exec(ctx, `UPDATE jobs SET run_after = ?`, fmtTime(nowUTC().Add(-time.Minute))); err != nil {
				t.Fatalf("rewinding run_after: %v", err)
			}
		}
		var err error
		job, err = q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue attempt %d: %v", attempt, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("attempt %d recorded as %d", attempt, job.Attempts)
		}
		retrying, err := q.Fail(ctx, job, errors.New("boom"))
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		wantRetry := attempt <= defaultMaxRetries
		if retrying != wantRetry {
			t.Fatalf("attempt %d: retry=%v, want %v", attempt, retrying, wantRetry)
		}
	}

	final, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorMsg != "boom" {
		t.Fatalf("error msg lost: %q", final.ErrorMsg)
	}
	if final.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}
}

func TestFailPermanentSkipsRetries(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, models.JobTypeScan, nil, struct{}{})
	job, _ := q.Dequeue(ctx)

	if err := q.FailPermanent(ctx, job.ID, errors.New("bad payload")); err != nil {
		t.Fatalf("FailPermanent: %v", err)
	}
	final, _ := q.Get(ctx, job.ID)
	if final.Status != models.JobStatusFailed || final.Attempts != 1 {
		t.Fatalf("expected immediate failure, got %+v", final)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := Backoff(attempt)
		if d < backoffBase {
			t.Fatalf("attempt %d: %v below base", attempt, d)
		}
		if d > backoffCap {
			t.Fatalf("attempt %d: %v exceeds cap", attempt, d)
		}
		// Jitter aside, delays must not shrink as attempts grow.
		if d < prev/2 {
			t.Fatalf("attempt %d: %v shrank from %v", attempt, d, prev)
		}
		prev = d
	}
	if Backoff(30) > backoffCap {
		t.Fatal("large attempt count exceeded cap")
	}
}

func TestCompleteClearsError(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, models.JobTypeScan, nil, struct{}{})
	job, _ := q.Dequeue(ctx)
	if _, err := q.Fail(ctx, job, errors.New("transient")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := q.db.Exec(ctx, `UPDATE jobs SET run_after = ?`, fmtTime(nowUTC().Add(-time.Minute))); err != nil {
		t.Fatalf("rewinding run_after: %v", err)
	}
	job, _ = q.Dequeue(ctx)
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	final, _ := q.Get(ctx, job.ID)
	if final.Status != models.JobStatusDone || final.ErrorMsg != "" {
		t.Fatalf("unexpected final state: %+v", final)
	}
}

func TestRequeueStale(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, models.JobTypeScan, nil, struct{}{})
	job, _ := q.Dequeue(ctx)

	// Fresh claims are untouched.
	n, err := q.RequeueStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh claim requeued: %d", n)
	}

	// Age the claim past the threshold.
	old := fmtTime(nowUTC().Add(-2 * time.Hour))
	if err := q.db.Exec(ctx, `UPDATE jobs SET started_at = ? WHERE id = ?`, old, job.ID); err != nil {
		t.Fatalf("aging claim: %v", err)
	}
	n, err = q.RequeueStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued, got %d", n)
	}

	reclaimed, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after requeue: %v", err)
	}
	if reclaimed.ID != job.ID || reclaimed.Attempts != 2 {
		t.Fatalf("unexpected reclaim: %+v", reclaimed)
	}
}

func TestCounts(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, models.JobTypeScan, nil, struct{}{})
	q.Enqueue(ctx, models.JobTypeScan, nil, struct{}{})
	job, _ := q.Dequeue(ctx)
	_ = q.Complete(ctx, job.ID)

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[models.JobStatusQueued] != 1 || counts[models.JobStatusDone] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
