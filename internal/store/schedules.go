package store

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

const scheduleCols = `id, repo_id, account_id, expr, full, enabled, last_run_at, created_at, updated_at`

// CreateSchedule registers a recurring scan for (repo, account).
func (s *Store) CreateSchedule(ctx context.Context, repoID, accountID int64, expr string, full bool) (*models.ScanSchedule, error) {
	sched := models.ScanSchedule{
		RepoID:    repoID,
		AccountID: accountID,
		Expr:      expr,
		Full:      full,
		Enabled:   true,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	id, err := s.db.Insert(ctx, "scan_schedules", sched)
	if err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}
	sched.ID = id
	return &sched, nil
}

// GetSchedule loads a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*models.ScanSchedule, error) {
	var sched models.ScanSchedule
	err := s.db.Get(ctx, &sched, `SELECT `+scheduleCols+` FROM scan_schedules WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &sched, nil
}

// ListSchedules returns all schedules ordered by id.
func (s *Store) ListSchedules(ctx context.Context) ([]models.ScanSchedule, error) {
	var out []models.ScanSchedule
	err := s.db.Select(ctx, &out, `SELECT `+scheduleCols+` FROM scan_schedules ORDER BY id`)
	return out, err
}

// SetScheduleEnabled toggles a schedule.
func (s *Store) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.db.Exec(ctx,
		`UPDATE scan_schedules SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, now(), id)
}

// TouchScheduleRun stamps a schedule's last firing time.
func (s *Store) TouchScheduleRun(ctx context.Context, id int64) error {
	return s.db.Exec(ctx,
		`UPDATE scan_schedules SET last_run_at = ?, updated_at = ? WHERE id = ?`,
		now(), now(), id)
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	return s.db.Exec(ctx, `DELETE FROM scan_schedules WHERE id = ?`, id)
}
