package scan

import (
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

func TestBuildMembersOrdersByScore(t *testing.T) {
	seed := groupSeed{members: []int{10, 11, 12}}
	content := `{"ranking": [
		{"prNumber": 11, "score": 0.4, "rationale": "partial"},
		{"prNumber": 12, "score": 0.9, "rationale": "most complete"},
		{"prNumber": 10, "score": 0.7, "rationale": "solid"}
	]}`
	members := buildMembers(seed, content, false)
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	wantOrder := []int{12, 10, 11}
	for i, m := range members {
		if m.PRNumber != wantOrder[i] {
			t.Fatalf("order wrong: %+v", members)
		}
		if m.Rank != i+1 {
			t.Fatalf("rank not sequential: %+v", m)
		}
	}
}

func TestBuildMembersDropsOutOfGroupNumbers(t *testing.T) {
	seed := groupSeed{members: []int{1, 2}}
	content := `{"ranking": [
		{"prNumber": 99, "score": 1.0},
		{"prNumber": 1, "score": 0.8},
		{"prNumber": 2, "score": 0.6}
	]}`
	members := buildMembers(seed, content, false)
	if len(members) != 2 {
		t.Fatalf("hallucinated PR kept: %+v", members)
	}
	if members[0].PRNumber != 1 || members[1].PRNumber != 2 {
		t.Fatalf("order wrong: %+v", members)
	}
}

func TestBuildMembersKeepsFirstOfDuplicates(t *testing.T) {
	seed := groupSeed{members: []int{1, 2}}
	content := `{"ranking": [
		{"prNumber": 1, "score": 0.9, "rationale": "first"},
		{"prNumber": 1, "score": 0.1, "rationale": "second"},
		{"prNumber": 2, "score": 0.5}
	]}`
	members := buildMembers(seed, content, false)
	if len(members) != 2 {
		t.Fatalf("duplicate entry kept: %+v", members)
	}
	if members[0].PRNumber != 1 || members[0].Score != 0.9 || members[0].Rationale != "first" {
		t.Fatalf("first occurrence lost: %+v", members[0])
	}
}

func TestBuildMembersAppendsOmittedMembers(t *testing.T) {
	seed := groupSeed{members: []int{1, 2, 3}}
	content := `{"ranking": [{"prNumber": 2, "score": 0.8}]}`
	members := buildMembers(seed, content, false)
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	if members[0].PRNumber != 2 {
		t.Fatalf("ranked member not first: %+v", members)
	}
	// Omitted members trail with zero score, ordered by PR number.
	if members[1].PRNumber != 1 || members[2].PRNumber != 3 {
		t.Fatalf("omitted order wrong: %+v", members)
	}
	if members[1].Score != 0 || members[1].Rationale != "not ranked by model" {
		t.Fatalf("omitted member wrong: %+v", members[1])
	}
	if members[2].Rank != 3 {
		t.Fatalf("ranks not sequential: %+v", members)
	}
}

func TestBuildMembersUnparseableResponse(t *testing.T) {
	seed := groupSeed{members: []int{5, 3}}
	members := buildMembers(seed, "the best PR is clearly #5", false)
	if len(members) != 2 {
		t.Fatalf("expected full group, got %+v", members)
	}
	// All zero score, so ordered by PR number.
	if members[0].PRNumber != 3 || members[1].PRNumber != 5 {
		t.Fatalf("order wrong: %+v", members)
	}
	for _, m := range members {
		if m.Rationale != "ranking response unparseable" {
			t.Fatalf("rationale wrong: %+v", m)
		}
	}
}

func TestBuildMembersFailedCall(t *testing.T) {
	seed := groupSeed{members: []int{1, 2}}
	members := buildMembers(seed, "", true)
	if len(members) != 2 || members[0].Rationale != "ranking response unparseable" {
		t.Fatalf("failed call not handled: %+v", members)
	}
}

func TestGroupLabelUsesFirstSentence(t *testing.T) {
	summary := "Adds exponential backoff to HTTP retries. Also fixes a log line."
	byNumber := map[int]*models.PR{
		1: {Number: 1, Title: "retry pr", IntentSummary: &summary},
	}
	seed := groupSeed{members: []int{1}}
	if got := groupLabel(seed, byNumber); got != "Adds exponential backoff to HTTP retries" {
		t.Fatalf("label wrong: %q", got)
	}
}

func TestGroupLabelFallsBackToTitle(t *testing.T) {
	byNumber := map[int]*models.PR{
		2: {Number: 2, Title: "Fix flaky test"},
	}
	seed := groupSeed{members: []int{2}}
	if got := groupLabel(seed, byNumber); got != "Fix flaky test" {
		t.Fatalf("label wrong: %q", got)
	}
	if got := groupLabel(groupSeed{members: []int{9}}, byNumber); got != "duplicate group" {
		t.Fatalf("missing PR fallback wrong: %q", got)
	}
}
