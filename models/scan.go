package models

import "encoding/json"

// Scan status values. Transitions are one-way:
// queued → ingesting → embedding → detecting → verifying → ranking → done,
// with any intermediate state allowed to jump to failed.
const (
	ScanStatusQueued    = "queued"
	ScanStatusIngesting = "ingesting"
	ScanStatusEmbedding = "embedding"
	ScanStatusDetecting = "detecting"
	ScanStatusVerifying = "verifying"
	ScanStatusRanking   = "ranking"
	ScanStatusDone      = "done"
	ScanStatusFailed    = "failed"
)

// ScanActive reports whether status is a non-terminal scan state.
func ScanActive(status string) bool {
	return status != ScanStatusDone && status != ScanStatusFailed
}

// Scan is one execution of the duplicate-detection pipeline against one repo
// on behalf of one account.
//
// PhaseCursor is an opaque JSON document holding outstanding provider batch
// ids so a process restart can resume polling instead of re-submitting; it is
// empty when no batch is in flight. TokensJSON is the per-phase token
// breakdown keyed phase.direction (e.g. "intent.input").
type Scan struct {
	ID             int64   `json:"id"               db:"id"`
	RepoID         int64   `json:"repo_id"          db:"repo_id"`
	AccountID      int64   `json:"account_id"       db:"account_id"`
	Status         string  `json:"status"           db:"status"`
	Full           bool    `json:"full"             db:"full"`
	PRCount        int     `json:"pr_count"         db:"pr_count"`
	DupeGroupCount int     `json:"dupe_group_count" db:"dupe_group_count"`
	PhaseCursor    string  `json:"phase_cursor"     db:"phase_cursor"`
	TokensJSON     string  `json:"tokens"           db:"tokens_json"`
	InputTokens    int64   `json:"input_tokens"     db:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"    db:"output_tokens"`
	ProvidersJSON  string  `json:"providers"        db:"providers_json"`
	ErrorMsg       string  `json:"error_msg"        db:"error_msg"`
	StartedAt      string  `json:"started_at"       db:"started_at"`
	CompletedAt    *string `json:"completed_at"     db:"completed_at"`
}

// PhaseCursorData is the decoded shape of Scan.PhaseCursor. Only the key of
// the currently running phase is meaningful.
type PhaseCursorData struct {
	EmbedBatchID  string `json:"embedBatchId,omitempty"`
	IntentBatchID string `json:"intentBatchId,omitempty"`
	VerifyBatchID string `json:"verifyBatchId,omitempty"`
	RankBatchID   string `json:"rankBatchId,omitempty"`
}

// Cursor decodes PhaseCursor. An empty or malformed cursor decodes to the
// zero value.
func (s Scan) Cursor() PhaseCursorData {
	var c PhaseCursorData
	if s.PhaseCursor != "" {
		_ = json.Unmarshal([]byte(s.PhaseCursor), &c)
	}
	return c
}

// EncodeCursor serialises c for storage; the zero value encodes to "".
func EncodeCursor(c PhaseCursorData) string {
	if c == (PhaseCursorData{}) {
		return ""
	}
	data, _ := json.Marshal(c)
	return string(data)
}

// DupeGroup is a set of PRs declared pairwise duplicates within one scan.
// Confidence and Relationship come from the group's highest-confidence seed
// edge; Label is a short human-readable description of the common intent.
type DupeGroup struct {
	ID           int64   `json:"id"           db:"id"`
	ScanID       int64   `json:"scan_id"      db:"scan_id"`
	Label        string  `json:"label"        db:"label"`
	Confidence   float64 `json:"confidence"   db:"confidence"`
	Relationship string  `json:"relationship" db:"relationship"`
	PRCount      int     `json:"pr_count"     db:"pr_count"`
	CreatedAt    string  `json:"created_at"   db:"created_at"`
}

// DupeGroupMember is one PR inside a duplicate group. Rank 1 is the member
// recommended to keep.
type DupeGroupMember struct {
	ID        int64   `json:"id"        db:"id"`
	GroupID   int64   `json:"group_id"  db:"group_id"`
	PRNumber  int     `json:"pr_number" db:"pr_number"`
	Rank      int     `json:"rank"      db:"member_rank"`
	Score     float64 `json:"score"     db:"score"`
	Rationale string  `json:"rationale" db:"rationale"`
}
