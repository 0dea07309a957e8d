package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/ai"
	"github.com/CosmoTheDev/dupescan-agent/internal/codehost"
	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/internal/embed"
	"github.com/CosmoTheDev/dupescan-agent/internal/queue"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/internal/vector"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// fakeHost serves a fixed PR listing.
type fakeHost struct {
	prs   []codehost.PullRequest
	diffs map[int]string
}

func (f *fakeHost) Name() string { return "github" }

func (f *fakeHost) ListOpenPRs(ctx context.Context, owner, repo string, opts codehost.ListOptions) ([]codehost.PullRequest, error) {
	return f.prs, nil
}

func (f *fakeHost) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	d, ok := f.diffs[number]
	if !ok {
		return "", codehost.ErrDiffTooLarge
	}
	return d, nil
}

var prNumRe = regexp.MustCompile(`PR #(\d+)`)

// prNumbers extracts the distinct PR numbers mentioned in a prompt, in order
// of first mention.
func prNumbers(prompt string) []int {
	var nums []int
	seen := make(map[int]bool)
	for _, m := range prNumRe.FindAllStringSubmatch(prompt, -1) {
		n, _ := strconv.Atoi(m[1])
		if !seen[n] {
			seen[n] = true
			nums = append(nums, n)
		}
	}
	return nums
}

// fakeChat answers the three phase prompts deterministically. dupPairs names
// the pairs it confirms as duplicates.
type fakeChat struct {
	dupPairs map[[2]int]bool

	intentCalls int
	verifyCalls int
	rankCalls   int
}

func (f *fakeChat) Name() string                        { return "fake" }
func (f *fakeChat) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeChat) CountTokens(text string) int64        { return int64(len(text) / 4) }

func (f *fakeChat) Chat(ctx context.Context, system, user string) (string, ai.Usage, error) {
	usage := ai.Usage{InputTokens: 100, OutputTokens: 20}
	nums := prNumbers(user)
	switch system {
	case intentSystemPrompt:
		f.intentCalls++
		return fmt.Sprintf(`{"summary": "Intent of PR %d. Further detail here."}`, nums[0]), usage, nil
	case verifySystemPrompt:
		f.verifyCalls++
		if f.dupPairs[edgeKey(nums[0], nums[1])] {
			return `{"isDuplicate": true, "confidence": 0.9, "relationship": "near_duplicate", "rationale": "same change"}`, usage, nil
		}
		return `{"isDuplicate": false, "confidence": 0.1, "relationship": "unrelated", "rationale": "different goals"}`, usage, nil
	case rankSystemPrompt:
		f.rankCalls++
		// Lower PR numbers score higher, so ranking order is predictable.
		var sb strings.Builder
		sb.WriteString(`{"ranking": [`)
		for i, n := range nums {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"prNumber": %d, "score": %.2f, "rationale": "r"}`, n, 1.0-0.05*float64(n))
		}
		sb.WriteString(`]}`)
		return sb.String(), usage, nil
	}
	return "", usage, fmt.Errorf("unexpected system prompt %q", system)
}

func (f *fakeChat) reset() { f.intentCalls, f.verifyCalls, f.rankCalls = 0, 0, 0 }

// chatFake lets the fixture accept both the sync and the batch chat double
// while still reaching the call counters.
type chatFake interface {
	ai.ChatProvider
	counters() *fakeChat
}

func (f *fakeChat) counters() *fakeChat { return f }

// fakeBatchChat wraps fakeChat with a batch API. Submissions get sequential
// ids; with interruptVerify set, the first verification batch reports the id
// through OnCreated and then fails, as if the process died while the batch
// ran remotely.
type fakeBatchChat struct {
	*fakeChat
	interruptVerify bool

	seq           int
	submitted     []string
	resumed       []string
	verifySubmits int
	verifyBatchID string
}

func (f *fakeBatchChat) ChatBatch(ctx context.Context, items []ai.BatchItem, opts ai.BatchOptions) ([]ai.BatchResult, error) {
	if opts.ExistingBatchID != "" {
		f.resumed = append(f.resumed, opts.ExistingBatchID)
	} else {
		f.seq++
		id := fmt.Sprintf("batch-%d", f.seq)
		f.submitted = append(f.submitted, id)
		if opts.OnCreated != nil {
			opts.OnCreated(id)
		}
		if len(items) > 0 && items[0].System == verifySystemPrompt {
			f.verifySubmits++
			f.verifyBatchID = id
			if f.interruptVerify {
				f.interruptVerify = false
				return nil, fmt.Errorf("polling batch %s: connection reset", id)
			}
		}
	}
	out := make([]ai.BatchResult, 0, len(items))
	for _, item := range items {
		content, usage, err := f.Chat(ctx, item.System, item.User)
		res := ai.BatchResult{ID: item.ID, Content: content, Usage: usage}
		if err != nil {
			res.Err = err.Error()
		}
		out = append(out, res)
	}
	return out, nil
}

// fakeEmbed maps texts onto orthogonal axes by keyword, so PRs about the same
// topic are exact neighbors and everything else is unrelated.
type fakeEmbed struct{}

func (fakeEmbed) Name() string                 { return "fake" }
func (fakeEmbed) Model() string                { return "fake-embed" }
func (fakeEmbed) Dimensions() int              { return 4 }
func (fakeEmbed) MaxInputTokens() int64        { return 8192 }
func (fakeEmbed) CountTokens(text string) int64 { return int64(len(text) / 4) }

func (fakeEmbed) Embed(ctx context.Context, texts []string) ([][]float32, int64, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "retry"):
			out[i] = []float32{1, 0, 0, 0}
		case strings.Contains(t, "docs"):
			out[i] = []float32{0, 1, 0, 0}
		case strings.Contains(t, "cache"):
			out[i] = []float32{0, 0, 1, 0}
		default:
			out[i] = []float32{0, 0, 0, 1}
		}
	}
	return out, int64(len(texts) * 8), nil
}

// fakeBatchEmbed wraps fakeEmbed with a batch API, mirroring fakeBatchChat:
// with interrupt set, the first submission reports its id and then fails.
type fakeBatchEmbed struct {
	fakeEmbed
	interrupt bool

	seq       int
	submitted []string
	resumed   []string
}

func (f *fakeBatchEmbed) EmbedBatch(ctx context.Context, items []embed.BatchItem, opts embed.BatchOptions) ([]embed.BatchResult, error) {
	if opts.ExistingBatchID != "" {
		f.resumed = append(f.resumed, opts.ExistingBatchID)
	} else {
		f.seq++
		id := fmt.Sprintf("embed-batch-%d", f.seq)
		f.submitted = append(f.submitted, id)
		if opts.OnCreated != nil {
			opts.OnCreated(id)
		}
		if f.interrupt {
			f.interrupt = false
			return nil, fmt.Errorf("polling batch %s: connection reset", id)
		}
	}
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}
	vecs, _, err := f.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]embed.BatchResult, len(items))
	for i, item := range items {
		out[i] = embed.BatchResult{ID: item.ID, Vector: vecs[i]}
	}
	return out, nil
}

type pipelineFixture struct {
	orch      *Orchestrator
	queue     *queue.Queue
	store     *store.Store
	chat      *fakeChat
	host      *fakeHost
	repoID    int64
	accountID int64
}

func newPipelineFixture(t *testing.T, chat chatFake, embedder embed.Provider, host *fakeHost) *pipelineFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(db)
	q := queue.New(db)
	res := resolver.New(&config.Config{}, st)

	acct, err := st.CreateAccount(ctx, "test", "")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	repo, err := st.TrackRepo(ctx, "github", "acme", "widgets")
	if err != nil {
		t.Fatalf("TrackRepo: %v", err)
	}

	svc := resolver.NewServices(chat, embedder, vector.NewMemory(), config.GitConfig{})
	svc.Host = host
	if b, ok := ai.ChatProvider(chat).(ai.BatchChatProvider); ok {
		svc.ChatBatch = b
	}
	if b, ok := embedder.(embed.BatchProvider); ok {
		svc.EmbedBatch = b
	}
	res.Override(acct.ID, svc)

	return &pipelineFixture{
		orch:      New(st, q, res, config.DetectConfig{}),
		queue:     q,
		store:     st,
		chat:      chat.counters(),
		host:      host,
		repoID:    repo.ID,
		accountID: acct.ID,
	}
}

// drain claims and runs jobs inline until the queue is empty.
func (f *pipelineFixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	handlers := map[string]func(context.Context, *models.Job) error{
		models.JobTypeScan:   f.orch.HandleScan,
		models.JobTypeIngest: f.orch.HandleIngest,
		models.JobTypeDetect: f.orch.HandleDetect,
	}
	for {
		job, err := f.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		h := handlers[job.Type]
		if h == nil {
			t.Fatalf("no handler for job type %q", job.Type)
		}
		if err := h(ctx, job); err != nil {
			t.Fatalf("%s job: %v", job.Type, err)
		}
		if err := f.queue.Complete(ctx, job.ID); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
}

func (f *pipelineFixture) runScan(t *testing.T) *models.Scan {
	t.Helper()
	ctx := context.Background()
	scanRow, err := f.orch.StartScan(ctx, f.repoID, f.accountID, true, 0)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	f.drain(t)
	final, err := f.store.GetScan(ctx, scanRow.ID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	return final
}

func hostPR(number int, title, body string, paths []string) codehost.PullRequest {
	return codehost.PullRequest{
		Number:    number,
		Title:     title,
		Body:      body,
		Author:    "alice",
		State:     models.PRStateOpen,
		FilePaths: paths,
		UpdatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func retryHost() *fakeHost {
	return &fakeHost{
		prs: []codehost.PullRequest{
			hostPR(1, "Add retry to http client", "Adds a retry loop.", []string{"client/retry.go"}),
			hostPR(2, "Implement retry with backoff", "Retries failed calls.", []string{"client/retry.go"}),
			hostPR(3, "Improve docs", "Rewrites the readme.", []string{"README.md"}),
		},
		diffs: map[int]string{
			1: "diff --git a/client/retry.go b/client/retry.go\n+retry",
			2: "diff --git a/client/retry.go b/client/retry.go\n+retry backoff",
		},
	}
}

func retryFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	chat := &fakeChat{dupPairs: map[[2]int]bool{edgeKey(1, 2): true}}
	return newPipelineFixture(t, chat, fakeEmbed{}, retryHost())
}

// twoTopicHost serves two duplicate clusters (retry: 1, 2, 4; cache: 5, 6)
// plus a standalone docs PR, so batch runs carry more than one verification
// pair and more than one group.
func twoTopicHost() *fakeHost {
	host := retryHost()
	host.prs = append(host.prs,
		hostPR(4, "Add retry for transient failures", "Wraps calls in a retry loop.", []string{"client/retry.go"}),
		hostPR(5, "Add LRU cache for lookups", "Caches lookup results in memory.", []string{"cache/lru.go"}),
		hostPR(6, "Cache lookup results", "Adds a lookup cache.", []string{"cache/lru.go"}),
	)
	return host
}

func twoTopicDupPairs() map[[2]int]bool {
	return map[[2]int]bool{
		edgeKey(1, 2): true,
		edgeKey(1, 4): true,
		edgeKey(2, 4): true,
		edgeKey(5, 6): true,
	}
}

// startToDetectJob runs a scan up to its detect job and returns the claimed
// job without executing it.
func (f *pipelineFixture) startToDetectJob(t *testing.T) (*models.Scan, *models.Job) {
	t.Helper()
	ctx := context.Background()

	scanRow, err := f.orch.StartScan(ctx, f.repoID, f.accountID, true, 0)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	ingest, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue ingest: %v", err)
	}
	if ingest.Type != models.JobTypeIngest {
		t.Fatalf("expected ingest job, got %q", ingest.Type)
	}
	if err := f.orch.HandleIngest(ctx, ingest); err != nil {
		t.Fatalf("HandleIngest: %v", err)
	}
	if err := f.queue.Complete(ctx, ingest.ID); err != nil {
		t.Fatalf("Complete ingest: %v", err)
	}

	detect, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue detect: %v", err)
	}
	if detect.Type != models.JobTypeDetect {
		t.Fatalf("expected detect job, got %q", detect.Type)
	}
	return scanRow, detect
}

// groupSets returns the scan's group memberships as sorted PR number sets,
// ordered by lowest member.
func (f *pipelineFixture) groupSets(t *testing.T, scanID int64) [][]int {
	t.Helper()
	ctx := context.Background()
	groups, err := f.store.ListDupeGroups(ctx, scanID)
	if err != nil {
		t.Fatalf("ListDupeGroups: %v", err)
	}
	var out [][]int
	for _, g := range groups {
		members, err := f.store.ListGroupMembers(ctx, g.ID)
		if err != nil {
			t.Fatalf("ListGroupMembers: %v", err)
		}
		nums := make([]int, 0, len(members))
		for _, m := range members {
			nums = append(nums, m.PRNumber)
		}
		sort.Ints(nums)
		out = append(out, nums)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestScanPipelineColdRun(t *testing.T) {
	f := retryFixture(t)
	ctx := context.Background()

	final := f.runScan(t)
	if final.Status != models.ScanStatusDone {
		t.Fatalf("scan not done: %s (%s)", final.Status, final.ErrorMsg)
	}
	if final.PRCount != 3 || final.DupeGroupCount != 1 {
		t.Fatalf("counts wrong: prs=%d groups=%d", final.PRCount, final.DupeGroupCount)
	}
	if final.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}

	groups, err := f.store.ListDupeGroups(ctx, final.ID)
	if err != nil {
		t.Fatalf("ListDupeGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.Relationship != models.RelNearDuplicate || g.Confidence != 0.9 {
		t.Fatalf("group verdict wrong: %+v", g)
	}
	if g.Label != "Intent of PR 1" {
		t.Fatalf("label wrong: %q", g.Label)
	}

	members, err := f.store.ListGroupMembers(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListGroupMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].PRNumber != 1 || members[0].Rank != 1 || members[1].PRNumber != 2 {
		t.Fatalf("ranking wrong: %+v", members)
	}

	// One intent call per PR, one verify call for the single candidate pair.
	if f.chat.intentCalls != 3 || f.chat.verifyCalls != 1 || f.chat.rankCalls != 1 {
		t.Fatalf("call counts wrong: intent=%d verify=%d rank=%d",
			f.chat.intentCalls, f.chat.verifyCalls, f.chat.rankCalls)
	}

	// Cache fields are stamped for the next scan.
	for n := 1; n <= 3; n++ {
		pr, err := f.store.GetPR(ctx, f.repoID, n)
		if err != nil {
			t.Fatalf("GetPR #%d: %v", n, err)
		}
		if pr.EmbedHash == nil || pr.IntentSummary == nil {
			t.Fatalf("PR #%d cache fields not stamped: %+v", n, pr)
		}
	}
	repo, _ := f.store.GetRepo(ctx, f.repoID)
	if repo.LastScanAt == nil {
		t.Fatal("watermark not set")
	}
}

func TestScanPipelineWarmRunUsesCaches(t *testing.T) {
	f := retryFixture(t)
	f.runScan(t)
	f.chat.reset()

	final := f.runScan(t)
	if final.Status != models.ScanStatusDone {
		t.Fatalf("rescan not done: %s", final.Status)
	}
	if final.DupeGroupCount != 1 {
		t.Fatalf("groups lost on rescan: %d", final.DupeGroupCount)
	}
	// Nothing changed, so intent and verification are pure cache hits.
	// Ranking always reruns.
	if f.chat.intentCalls != 0 || f.chat.verifyCalls != 0 {
		t.Fatalf("warm run hit the model: intent=%d verify=%d",
			f.chat.intentCalls, f.chat.verifyCalls)
	}
	if f.chat.rankCalls != 1 {
		t.Fatalf("ranking skipped: %d", f.chat.rankCalls)
	}
}

func TestScanPipelineInvalidatesOnContentChange(t *testing.T) {
	f := retryFixture(t)
	f.runScan(t)
	f.chat.reset()

	// PR 2's body changes: only it re-summarises, and its pair re-verifies.
	f.host.prs[1].Body = "Retries failed calls with jitter."
	f.host.prs[1].UpdatedAt = f.host.prs[1].UpdatedAt.Add(time.Hour)

	final := f.runScan(t)
	if final.Status != models.ScanStatusDone {
		t.Fatalf("rescan not done: %s", final.Status)
	}
	if f.chat.intentCalls != 1 {
		t.Fatalf("expected 1 intent call, got %d", f.chat.intentCalls)
	}
	if f.chat.verifyCalls != 1 {
		t.Fatalf("expected 1 verify call, got %d", f.chat.verifyCalls)
	}
}

func TestDetectJobForFinishedScanIsNoOp(t *testing.T) {
	f := retryFixture(t)
	final := f.runScan(t)
	f.chat.reset()

	// Redeliver the detect job for the already-finished scan.
	payload, _ := json.Marshal(models.DetectJobPayload{
		ScanJobPayload: models.ScanJobPayload{
			ScanID:    final.ID,
			RepoID:    f.repoID,
			AccountID: f.accountID,
			Full:      true,
		},
		PRNumbers: []int{1, 2, 3},
	})
	job := &models.Job{Type: models.JobTypeDetect, PayloadJSON: string(payload)}
	if err := f.orch.HandleDetect(context.Background(), job); err != nil {
		t.Fatalf("redelivered job errored: %v", err)
	}
	if f.chat.intentCalls != 0 || f.chat.verifyCalls != 0 || f.chat.rankCalls != 0 {
		t.Fatal("redelivered job reran the pipeline")
	}

	got, _ := f.store.GetScan(context.Background(), final.ID)
	if got.Status != models.ScanStatusDone {
		t.Fatalf("scan status changed: %s", got.Status)
	}
}

func TestStartScanReturnsActiveScan(t *testing.T) {
	f := retryFixture(t)
	ctx := context.Background()

	first, err := f.orch.StartScan(ctx, f.repoID, f.accountID, true, 0)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	// A second start while the first is still queued returns the same scan.
	second, err := f.orch.StartScan(ctx, f.repoID, f.accountID, true, 0)
	if err != nil {
		t.Fatalf("StartScan second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second start created scan %d alongside %d", second.ID, first.ID)
	}
}

func TestScanPipelineResumesVerifyBatch(t *testing.T) {
	ctx := context.Background()

	// Control run with the same fixture and no interruption.
	control := newPipelineFixture(t,
		&fakeBatchChat{fakeChat: &fakeChat{dupPairs: twoTopicDupPairs()}},
		fakeEmbed{}, twoTopicHost())
	controlScan := control.runScan(t)
	if controlScan.Status != models.ScanStatusDone {
		t.Fatalf("control scan not done: %s (%s)", controlScan.Status, controlScan.ErrorMsg)
	}
	want := control.groupSets(t, controlScan.ID)

	chat := &fakeBatchChat{
		fakeChat:        &fakeChat{dupPairs: twoTopicDupPairs()},
		interruptVerify: true,
	}
	f := newPipelineFixture(t, chat, fakeEmbed{}, twoTopicHost())
	scanRow, detect := f.startToDetectJob(t)

	// First attempt dies while the verification batch runs remotely.
	if err := f.orch.HandleDetect(ctx, detect); err == nil {
		t.Fatal("expected first detect attempt to fail")
	}
	mid, err := f.store.GetScan(ctx, scanRow.ID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if !models.ScanActive(mid.Status) {
		t.Fatalf("scan went terminal on a retryable failure: %s", mid.Status)
	}
	if chat.verifyBatchID == "" || mid.Cursor().VerifyBatchID != chat.verifyBatchID {
		t.Fatalf("verification batch id not persisted: cursor=%q submitted=%q",
			mid.Cursor().VerifyBatchID, chat.verifyBatchID)
	}

	// The queue redelivers the same job; the run must poll the outstanding
	// batch instead of submitting a second one.
	if err := f.orch.HandleDetect(ctx, detect); err != nil {
		t.Fatalf("redelivered detect: %v", err)
	}
	if chat.verifySubmits != 1 {
		t.Fatalf("verification batch submitted %d times", chat.verifySubmits)
	}
	if len(chat.resumed) != 1 || chat.resumed[0] != chat.verifyBatchID {
		t.Fatalf("resumed batches %v, want [%s]", chat.resumed, chat.verifyBatchID)
	}

	final, err := f.store.GetScan(ctx, scanRow.ID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if final.Status != models.ScanStatusDone {
		t.Fatalf("scan not done after resume: %s (%s)", final.Status, final.ErrorMsg)
	}
	if final.PhaseCursor != "" {
		t.Fatalf("cursor not cleared: %q", final.PhaseCursor)
	}
	got := f.groupSets(t, final.ID)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("groups diverged after resume: got %v, want %v", got, want)
	}
}

func TestScanPipelineResumesEmbedBatch(t *testing.T) {
	ctx := context.Background()

	chat := &fakeChat{dupPairs: map[[2]int]bool{edgeKey(1, 2): true}}
	embedder := &fakeBatchEmbed{interrupt: true}
	f := newPipelineFixture(t, chat, embedder, retryHost())
	scanRow, detect := f.startToDetectJob(t)

	if err := f.orch.HandleDetect(ctx, detect); err == nil {
		t.Fatal("expected first detect attempt to fail")
	}
	mid, err := f.store.GetScan(ctx, scanRow.ID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if len(embedder.submitted) != 1 || mid.Cursor().EmbedBatchID != embedder.submitted[0] {
		t.Fatalf("embedding batch id not persisted: cursor=%q submitted=%v",
			mid.Cursor().EmbedBatchID, embedder.submitted)
	}

	if err := f.orch.HandleDetect(ctx, detect); err != nil {
		t.Fatalf("redelivered detect: %v", err)
	}
	if len(embedder.submitted) != 1 {
		t.Fatalf("embedding batch submitted %d times", len(embedder.submitted))
	}
	if len(embedder.resumed) != 1 || embedder.resumed[0] != embedder.submitted[0] {
		t.Fatalf("resumed batches %v, want [%s]", embedder.resumed, embedder.submitted[0])
	}

	final, err := f.store.GetScan(ctx, scanRow.ID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if final.Status != models.ScanStatusDone || final.DupeGroupCount != 1 {
		t.Fatalf("scan wrong after resume: status=%s groups=%d", final.Status, final.DupeGroupCount)
	}
}
