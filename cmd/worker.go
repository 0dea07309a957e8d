package cmd

import (
	"context"
	"fmt"
	"log/slog"
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
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone worker pool",
	Long: `Runs the job-queue worker pool until interrupted. Use this to process scans
enqueued by the gateway or by other processes sharing the same database.
Multiple worker processes may run concurrently; the queue guarantees each
job is claimed by exactly one of them.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0,
		"number of worker goroutines (default from config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	q := queue.New(db)
	res := resolver.New(cfg, st)
	orch := scan.New(st, q, res, cfg.Detect)

	count := workerCount
	if count <= 0 {
		count = cfg.Worker.Count
	}
	var opts []worker.Option
	if count > 0 {
		opts = append(opts, worker.WithCount(count))
	}
	if cfg.Worker.PollInterval > 0 {
		opts = append(opts, worker.WithPollInterval(time.Duration(cfg.Worker.PollInterval)*time.Second))
	}
	if cfg.Worker.StaleAfter > 0 {
		opts = append(opts, worker.WithStaleAfter(time.Duration(cfg.Worker.StaleAfter)*time.Minute))
	}
	pool := worker.NewPool(q, opts...)
	orch.Register(pool)

	fmt.Println("Worker pool running. Ctrl-C to stop.")
	pool.Run(ctx)
	slog.Info("Worker pool stopped")
	return nil
}
