package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/gateway"
)

var gatewayPort int

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the dupescan gateway daemon",
	Long: `Starts the dupescan gateway: a long-running daemon that combines the
worker pool with a localhost REST control plane.

The gateway processes scan jobs continuously and exposes a local HTTP API
(default: http://127.0.0.1:6090) so you can:

  • Track repositories and create accounts
  • Trigger scans and watch them move through the pipeline
  • Read duplicate groups and their ranked members
  • Create cron schedules for recurring scans
  • Inspect the job queue

Example schedules:
  "0 2 * * *"   — every night at 02:00
  "@every 6h"   — every 6 hours
  "@daily"      — once per day at midnight

Quick API reference:
  GET    /health                     liveness check
  GET    /api/status                 daemon + queue snapshot
  GET    /api/repos                  list tracked repos
  POST   /api/repos                  track a repo
  POST   /api/scans                  start a scan (body: {"repo_id":1,"account_id":1})
  GET    /api/scans/{id}             scan progress
  GET    /api/scans/{id}/groups      duplicate groups with members
  GET    /api/jobs                   job queue listing
  POST   /api/schedules              create a cron schedule
  DELETE /api/scans                  clear all scan results and caches`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().IntVar(&gatewayPort, "port", 0,
		"HTTP port to listen on (default 6090, overrides config)")
}

func runGateway(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if gatewayPort > 0 {
		cfg.Gateway.Port = gatewayPort
	}

	return gateway.New(cfg, db).Start(ctx)
}
