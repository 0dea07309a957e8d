package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/dupescan-agent/internal/queue"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// Scheduler loads scan_schedules and registers them with robfig/cron. When a
// schedule fires it enqueues a scan job for the schedule's (repo, account)
// pair and records last_run_at.
type Scheduler struct {
	store *store.Store
	queue *queue.Queue
	cron  *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID // schedule DB id → cron entry id
}

func newScheduler(st *store.Store, q *queue.Queue) *Scheduler {
	return &Scheduler{
		store:   st,
		queue:   q,
		cron:    cron.New(),
		entries: make(map[int64]cron.EntryID),
	}
}

// Start loads all enabled schedules from the DB and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}
	registered := 0
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: skipping schedule with invalid expression",
				"id", sched.ID, "expr", sched.Expr, "error", err)
			continue
		}
		registered++
	}
	s.cron.Start()
	slog.Info("gateway scheduler started", "schedules_loaded", registered)
	return nil
}

// Stop halts the cron runner gracefully.
func (s *Scheduler) Stop() { s.cron.Stop() }

// Reload drops every registered entry and re-registers from the DB. Called
// after schedule CRUD so changes take effect without a restart.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("reloading schedules: %w", err)
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: skipping schedule with invalid expression",
				"id", sched.ID, "expr", sched.Expr, "error", err)
		}
	}
	return nil
}

// Validate reports whether expr is a parseable five-field cron expression.
func Validate(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// register adds a schedule to the running cron instance.
func (s *Scheduler) register(sched models.ScanSchedule) error {
	entryID, err := s.cron.AddFunc(sched.Expr, func() {
		if err := s.fire(context.Background(), sched); err != nil {
			slog.Warn("scheduler: firing schedule failed",
				"id", sched.ID, "repo", sched.RepoID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Expr, err)
	}
	s.mu.Lock()
	s.entries[sched.ID] = entryID
	s.mu.Unlock()
	return nil
}

// fire enqueues the scan job for a triggered schedule.
func (s *Scheduler) fire(ctx context.Context, sched models.ScanSchedule) error {
	_, err := s.queue.Enqueue(ctx, models.JobTypeScan, nil, models.ScanJobPayload{
		RepoID:    sched.RepoID,
		AccountID: sched.AccountID,
		Full:      sched.Full,
	})
	if err != nil {
		return err
	}
	if err := s.store.TouchScheduleRun(ctx, sched.ID); err != nil {
		slog.Warn("scheduler: recording last run failed", "id", sched.ID, "error", err)
	}
	slog.Info("Schedule fired", "id", sched.ID, "repo", sched.RepoID, "full", sched.Full)
	return nil
}
