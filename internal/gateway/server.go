package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/internal/queue"
	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/scan"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/internal/worker"
)

// Gateway is the long-running daemon that combines:
//   - the worker pool (executing scan jobs)
//   - a cron Scheduler (enqueuing scans on schedule)
//   - a localhost REST server (control plane for users)
type Gateway struct {
	cfg       *config.Config
	db        database.DB
	store     *store.Store
	queue     *queue.Queue
	resolver  *resolver.Resolver
	orch      *scan.Orchestrator
	pool      *worker.Pool
	scheduler *Scheduler
	startedAt time.Time
}

// New creates a Gateway. Call Start() to begin serving.
func New(cfg *config.Config, db database.DB) *Gateway {
	st := store.New(db)
	q := queue.New(db)
	res := resolver.New(cfg, st)
	orch := scan.New(st, q, res, cfg.Detect)

	var opts []worker.Option
	if cfg.Worker.Count > 0 {
		opts = append(opts, worker.WithCount(cfg.Worker.Count))
	}
	if cfg.Worker.PollInterval > 0 {
		opts = append(opts, worker.WithPollInterval(time.Duration(cfg.Worker.PollInterval)*time.Second))
	}
	if cfg.Worker.StaleAfter > 0 {
		opts = append(opts, worker.WithStaleAfter(time.Duration(cfg.Worker.StaleAfter)*time.Minute))
	}
	pool := worker.NewPool(q, opts...)
	orch.Register(pool)

	gw := &Gateway{
		cfg:       cfg,
		db:        db,
		store:     st,
		queue:     q,
		resolver:  res,
		orch:      orch,
		pool:      pool,
		startedAt: time.Now(),
	}
	gw.scheduler = newScheduler(st, q)
	return gw
}

// Start runs the gateway until ctx is cancelled. It:
//  1. Loads and starts the cron scheduler
//  2. Runs the worker pool in a background goroutine
//  3. Binds the HTTP server (blocks until shutdown)
func (gw *Gateway) Start(ctx context.Context) error {
	port := gw.cfg.Gateway.Port
	if port == 0 {
		port = 6090
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	if err := gw.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	go gw.pool.Run(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: buildHandler(gw),
	}

	go func() {
		<-ctx.Done()
		gw.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// buildHandler wires every API route onto a ServeMux.
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /api/status", gw.handleStatus)

	mux.HandleFunc("GET /api/repos", gw.handleListRepos)
	mux.HandleFunc("POST /api/repos", gw.handleTrackRepo)
	mux.HandleFunc("DELETE /api/repos", gw.handleClearRepos)
	mux.HandleFunc("GET /api/repos/{id}", gw.handleGetRepo)
	mux.HandleFunc("DELETE /api/repos/{id}", gw.handleDeleteRepo)
	mux.HandleFunc("GET /api/repos/{id}/prs", gw.handleListRepoPRs)
	mux.HandleFunc("GET /api/repos/{id}/scans", gw.handleListRepoScans)

	mux.HandleFunc("GET /api/accounts", gw.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", gw.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", gw.handleGetAccount)
	mux.HandleFunc("PUT /api/accounts/{id}/providers", gw.handleUpdateAccountProviders)

	mux.HandleFunc("GET /api/scans", gw.handleListScans)
	mux.HandleFunc("POST /api/scans", gw.handleStartScan)
	mux.HandleFunc("DELETE /api/scans", gw.handleClearScans)
	mux.HandleFunc("GET /api/scans/{id}", gw.handleGetScan)
	mux.HandleFunc("GET /api/scans/{id}/groups", gw.handleListScanGroups)
	mux.HandleFunc("GET /api/groups/{id}/members", gw.handleListGroupMembers)

	mux.HandleFunc("GET /api/jobs", gw.handleListJobs)
	mux.HandleFunc("GET /api/jobs/summary", gw.handleJobsSummary)
	mux.HandleFunc("GET /api/jobs/{id}", gw.handleGetJob)

	mux.HandleFunc("GET /api/schedules", gw.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", gw.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}/enabled", gw.handleSetScheduleEnabled)
	mux.HandleFunc("DELETE /api/schedules/{id}", gw.handleDeleteSchedule)

	return mux
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := gw.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := gw.queue.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(gw.startedAt).Seconds()),
		"workers":        gw.cfg.Worker.Count,
		"stats":          stats,
		"jobs":           counts,
	})
}
