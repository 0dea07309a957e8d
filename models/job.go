package models

// Job status values.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// Job types dispatched by the worker pool.
const (
	JobTypeScan   = "scan"
	JobTypeIngest = "ingest"
	JobTypeDetect = "detect"
)

// Job is a unit of deferred work in the durable queue. Delivery is
// at-least-once: handlers must be idempotent at the level of their observable
// effects. RunAfter gates delayed retries; any worker may claim any queued
// job whose RunAfter has elapsed.
type Job struct {
	ID          int64   `json:"id"           db:"id"`
	ScanID      *int64  `json:"scan_id"      db:"scan_id"`
	Type        string  `json:"type"         db:"type"`
	PayloadJSON string  `json:"payload"      db:"payload"`
	Status      string  `json:"status"       db:"status"`
	Attempts    int     `json:"attempts"     db:"attempts"`
	MaxRetries  int     `json:"max_retries"  db:"max_retries"`
	RunAfter    string  `json:"run_after"    db:"run_after"`
	ErrorMsg    string  `json:"error_msg"    db:"error_msg"`
	CreatedAt   string  `json:"created_at"   db:"created_at"`
	StartedAt   *string `json:"started_at"   db:"started_at"`
	CompletedAt *string `json:"completed_at" db:"completed_at"`
}

// ScanJobPayload launches a scan for (repo, account). Full requests a full
// ingest (list all open PRs and reconcile closures) rather than an
// incremental one.
type ScanJobPayload struct {
	ScanID    int64 `json:"scanId"`
	RepoID    int64 `json:"repoId"`
	AccountID int64 `json:"accountId"`
	Full      bool  `json:"full"`
	MaxPRs    int   `json:"maxPrs,omitempty"`
}

// IngestJobPayload adds the incremental-ingest watermark.
type IngestJobPayload struct {
	ScanJobPayload
	LastScanAt string `json:"lastScanAt,omitempty"`
}

// DetectJobPayload carries the ingest snapshot: detection operates on the PR
// numbers that belong to this scan, not on all open PRs in the database.
type DetectJobPayload struct {
	ScanJobPayload
	PRNumbers []int `json:"prNumbers"`
}
