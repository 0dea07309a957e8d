package models

// ScanSchedule is a recurring scan definition evaluated by the cron
// scheduler. Expr is a standard five-field cron expression.
type ScanSchedule struct {
	ID        int64   `json:"id"          db:"id"`
	RepoID    int64   `json:"repo_id"     db:"repo_id"`
	AccountID int64   `json:"account_id"  db:"account_id"`
	Expr      string  `json:"expr"        db:"expr"`
	Full      bool    `json:"full"        db:"full"`
	Enabled   bool    `json:"enabled"     db:"enabled"`
	LastRunAt *string `json:"last_run_at" db:"last_run_at"`
	CreatedAt string  `json:"created_at"  db:"created_at"`
	UpdatedAt string  `json:"updated_at"  db:"updated_at"`
}
