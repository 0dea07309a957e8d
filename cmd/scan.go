package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/queue"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/scan"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/internal/worker"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

var (
	scanFull      bool
	scanMaxPRs    int
	scanAccountID int64
)

var scanCmd = &cobra.Command{
	Use:   "scan <owner/name>",
	Short: "Run a one-shot duplicate scan of a repository",
	Long: `Runs the full pipeline against a tracked repository and waits for the
result: ingest open PRs, extract intent, embed, search candidates, verify
pairs, group and rank. The repo is tracked automatically if it is new.

Repeat scans are cheap: unchanged PRs reuse their cached summaries, vectors
and pairwise verdicts.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false,
		"ignore the incremental watermark and re-list every open PR")
	scanCmd.Flags().IntVar(&scanMaxPRs, "max-prs", 0,
		"cap the number of open PRs ingested (0 = config default)")
	scanCmd.Flags().Int64Var(&scanAccountID, "account", 0,
		"account id to scan as (default: first account, created if none)")
}

func runScan(cmd *cobra.Command, args []string) error {
	owner, name, err := splitRepoArg(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	repo, err := st.TrackRepo(ctx, repoProvider, owner, name)
	if err != nil {
		return err
	}
	accountID, err := ensureAccount(ctx, st, scanAccountID)
	if err != nil {
		return err
	}

	q := queue.New(db)
	res := resolver.New(cfg, st)
	orch := scan.New(st, q, res, cfg.Detect)

	workers := cfg.Worker.Count
	if workers <= 0 {
		workers = 1
	}
	pool := worker.NewPool(q,
		worker.WithCount(workers),
		worker.WithPollInterval(500*time.Millisecond),
	)
	orch.Register(pool)

	scanRow, err := orch.StartScan(ctx, repo.ID, accountID, scanFull, scanMaxPRs)
	if err != nil {
		return err
	}
	fmt.Printf("Scan %d started for %s\n", scanRow.ID, repo.FullName())

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(poolCtx)
		close(done)
	}()

	lastStatus := ""
	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return errors.New("interrupted")
		case <-time.After(time.Second):
		}
		current, err := st.GetScan(ctx, scanRow.ID)
		if err != nil {
			cancel()
			<-done
			return err
		}
		if current.Status != lastStatus {
			fmt.Printf("  %s\n", current.Status)
			lastStatus = current.Status
		}
		if !models.ScanActive(current.Status) {
			cancel()
			<-done
			return printScanResult(ctx, st, current)
		}
	}
}

// ensureAccount returns the account to scan as: the requested id, else the
// first existing account, else a freshly created "default".
func ensureAccount(ctx context.Context, st *store.Store, requested int64) (int64, error) {
	if requested > 0 {
		if _, err := st.GetAccount(ctx, requested); err != nil {
			return 0, err
		}
		return requested, nil
	}
	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	if len(accounts) > 0 {
		return accounts[0].ID, nil
	}
	acct, err := st.CreateAccount(ctx, "default", "{}")
	if err != nil {
		return 0, err
	}
	return acct.ID, nil
}

func printScanResult(ctx context.Context, st *store.Store, scanRow *models.Scan) error {
	if scanRow.Status == models.ScanStatusFailed {
		return fmt.Errorf("scan failed: %s", scanRow.ErrorMsg)
	}

	fmt.Printf("\nScan %d done: %d PRs, %d duplicate groups (%d in / %d out tokens)\n",
		scanRow.ID, scanRow.PRCount, scanRow.DupeGroupCount,
		scanRow.InputTokens, scanRow.OutputTokens)

	groups, err := st.ListDupeGroups(ctx, scanRow.ID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Printf("\n  %s  [%s, confidence %.2f]\n", g.Label, g.Relationship, g.Confidence)
		members, err := st.ListGroupMembers(ctx, g.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			marker := " "
			if m.Rank == 1 {
				marker = "*"
			}
			fmt.Printf("    %s #%-6d rank %d  score %.2f  %s\n",
				marker, m.PRNumber, m.Rank, m.Score, m.Rationale)
		}
	}
	return nil
}
