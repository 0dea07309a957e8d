// Package worker runs the job-queue consumer pool. Each worker polls the
// queue, dispatches claimed jobs to the handler registered for the job type,
// and reports the outcome back to the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/queue"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// ErrPermanent wraps errors that retrying cannot fix. Jobs failing with it
// are marked failed immediately instead of consuming their retry budget.
var ErrPermanent = errors.New("permanent failure")

// Handler executes one job. A nil return completes the job; an error return
// triggers retry with backoff until the job's retry budget runs out, unless
// the error wraps ErrPermanent.
type Handler func(ctx context.Context, job *models.Job) error

// Pool is a fixed-size set of queue consumers sharing one handler registry.
type Pool struct {
	queue        *queue.Queue
	count        int
	pollInterval time.Duration
	staleAfter   time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Pool.
type Option func(*Pool)

// WithCount sets the number of concurrent workers.
func WithCount(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.count = n
		}
	}
}

// WithPollInterval sets how long an idle worker sleeps between polls.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithStaleAfter sets the age at which a running job's claim is considered
// abandoned and requeued.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// NewPool builds a pool over q.
func NewPool(q *queue.Queue, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		count:        3,
		pollInterval: 2 * time.Second,
		staleAfter:   30 * time.Minute,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register installs the handler for a job type, replacing any previous one.
func (p *Pool) Register(jobType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
}

func (p *Pool) handler(jobType string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[jobType]
	return h, ok
}

// Run starts the workers and the stale-claim sweeper and blocks until ctx is
// cancelled and all in-flight jobs have finished.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("Starting worker pool", "workers", p.count, "pollInterval", p.pollInterval)

	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sweepStale(ctx)
	}()

	wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if err != nil {
			slog.Error("Dequeue failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.process(ctx, id, job)
	}
}

// process runs one job with panic isolation. A panicking handler fails the
// job like any other error instead of taking down the pool.
func (p *Pool) process(ctx context.Context, workerID int, job *models.Job) {
	slog.Info("Processing job", "worker", workerID, "job", job.ID, "type", job.Type, "attempt", job.Attempts)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		h, ok := p.handler(job.Type)
		if !ok {
			return fmt.Errorf("no handler registered for job type %q", job.Type)
		}
		return h(ctx, job)
	}()

	if err == nil {
		if cerr := p.queue.Complete(ctx, job.ID); cerr != nil {
			slog.Error("Completing job failed", "job", job.ID, "error", cerr)
		}
		slog.Info("Job done", "worker", workerID, "job", job.ID, "type", job.Type)
		return
	}

	if errors.Is(err, ErrPermanent) {
		if ferr := p.queue.FailPermanent(ctx, job.ID, err); ferr != nil {
			slog.Error("Recording job failure failed", "job", job.ID, "error", ferr)
		}
		slog.Error("Job failed permanently", "job", job.ID, "type", job.Type, "error", err)
		return
	}

	retrying, ferr := p.queue.Fail(ctx, job, err)
	if ferr != nil {
		slog.Error("Recording job failure failed", "job", job.ID, "error", ferr)
		return
	}
	if retrying {
		slog.Warn("Job failed, will retry", "job", job.ID, "type", job.Type,
			"attempt", job.Attempts, "error", err)
	} else {
		slog.Error("Job failed permanently", "job", job.ID, "type", job.Type,
			"attempts", job.Attempts, "error", err)
	}
}

// sweepStale periodically requeues jobs abandoned by dead workers.
func (p *Pool) sweepStale(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RequeueStale(ctx, p.staleAfter)
			if err != nil {
				slog.Error("Stale job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("Requeued stale jobs", "count", n)
			}
		}
	}
}
