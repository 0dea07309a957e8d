package models

// Relationship labels attached to pairwise verdicts.
const (
	RelExactDuplicate = "exact_duplicate"
	RelNearDuplicate  = "near_duplicate"
	RelRelated        = "related"
	RelUnrelated      = "unrelated"
	RelError          = "error"
	RelParseError     = "parse_error"
)

// PairVerdict is the decision for one unordered PR pair: duplicate or not,
// with confidence and rationale. Verdicts are strictly per-pair; duplication
// is never inferred transitively.
type PairVerdict struct {
	PRA          int     `json:"prA"`
	PRB          int     `json:"prB"`
	IsDuplicate  bool    `json:"isDuplicate"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship"`
	Rationale    string  `json:"rationale"`
}

// PairwiseCacheEntry is the content-addressed record of a verdict, keyed by
// both PRs' embed hashes at verification time. Always stored with
// PRANumber < PRBNumber; a cache hit requires both hashes to match the PRs'
// current hashes exactly.
type PairwiseCacheEntry struct {
	ID           int64   `json:"id"            db:"id"`
	RepoID       int64   `json:"repo_id"       db:"repo_id"`
	PRANumber    int     `json:"pra_number"    db:"pra_number"`
	PRBNumber    int     `json:"prb_number"    db:"prb_number"`
	HashA        string  `json:"hash_a"        db:"hash_a"`
	HashB        string  `json:"hash_b"        db:"hash_b"`
	IsDuplicate  bool    `json:"is_duplicate"  db:"is_duplicate"`
	Confidence   float64 `json:"confidence"    db:"confidence"`
	Relationship string  `json:"relationship"  db:"relationship"`
	Rationale    string  `json:"rationale"     db:"rationale"`
	CreatedAt    string  `json:"created_at"    db:"created_at"`
}
