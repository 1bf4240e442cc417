// Package worker is the local ingestion driver used when no Temporal cluster
// is configured. Runs are claimed with a lease on the lab_report row, so any
// number of processes can share the table and a crashed worker's runs are
// picked up again once its heartbeat goes stale.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

// RunFunc drives one run to a terminal state.
type RunFunc func(ctx context.Context, reportID uuid.UUID) error

type Config struct {
	Concurrency    int
	PollInterval   time.Duration
	LeaseTTL       time.Duration
	HeartbeatEvery time.Duration
	BatchSize      int
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = c.LeaseTTL / 3
	}
	if c.BatchSize < 1 {
		c.BatchSize = c.Concurrency
	}
	return c
}

type Worker struct {
	log     *logger.Logger
	reports repos.LabReportRepo
	run     RunFunc
	cfg     Config
	pool    *ants.Pool
	wake    chan uuid.UUID
	wg      sync.WaitGroup
}

func New(log *logger.Logger, reports repos.LabReportRepo, run RunFunc, cfg Config) (*Worker, error) {
	cfg = cfg.withDefaults()
	w := &Worker{
		log:     log.With("component", "IngestWorker"),
		reports: reports,
		run:     run,
		cfg:     cfg,
		wake:    make(chan uuid.UUID, 64),
	}
	pool, err := ants.NewPool(cfg.Concurrency, ants.WithPanicHandler(func(p interface{}) {
		w.log.Error("Ingest run panic", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("ingest worker pool: %w", err)
	}
	w.pool = pool
	return w, nil
}

// Dispatch asks the worker to pick up reportID now instead of on the next poll.
func (w *Worker) Dispatch(_ context.Context, reportID uuid.UUID) error {
	select {
	case w.wake <- reportID:
	default:
		// The poll loop finds it anyway.
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting ingest worker", "concurrency", w.cfg.Concurrency, "lease_ttl", w.cfg.LeaseTTL.String())
	go w.loop(ctx)
}

// Close waits for in-flight runs and releases the pool.
func (w *Worker) Close() {
	w.wg.Wait()
	w.pool.Release()
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Ingest worker stopped")
			return
		case id := <-w.wake:
			w.claimAndSubmit(ctx, id)
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	free := w.pool.Free()
	if free <= 0 {
		return
	}
	limit := w.cfg.BatchSize
	if free < limit {
		limit = free
	}
	ids, err := w.reports.ListResumable(dbctx.Context{Ctx: ctx}, w.staleBefore(), limit)
	if err != nil {
		w.log.Warn("ListResumable failed", "error", err)
		return
	}
	for _, id := range ids {
		w.claimAndSubmit(ctx, id)
	}
}

func (w *Worker) staleBefore() time.Time {
	return time.Now().UTC().Add(-w.cfg.LeaseTTL)
}

func (w *Worker) claimAndSubmit(ctx context.Context, id uuid.UUID) {
	ok, err := w.reports.ClaimLease(dbctx.Context{Ctx: ctx}, id, w.staleBefore())
	if err != nil {
		w.log.Warn("ClaimLease failed", "report_id", id, "error", err)
		return
	}
	if !ok {
		return
	}
	w.wg.Add(1)
	if err := w.pool.Submit(func() {
		defer w.wg.Done()
		w.process(ctx, id)
	}); err != nil {
		w.wg.Done()
		w.log.Warn("Pool rejected run", "report_id", id, "error", err)
		w.release(id)
	}
}

func (w *Worker) process(ctx context.Context, id uuid.UUID) {
	stop := w.heartbeat(ctx, id)
	defer func() {
		stop()
		w.release(id)
		if r := recover(); r != nil {
			w.log.Error("Ingest run panic", "report_id", id, "panic", r)
		}
	}()

	if err := w.run(ctx, id); err != nil {
		w.log.Warn("Ingest run left open", "report_id", id, "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, id uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(w.cfg.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := w.reports.Heartbeat(dbctx.Context{Ctx: ctx}, id); err != nil {
					w.log.Warn("Lease heartbeat failed", "report_id", id, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// release uses a fresh context so a shutdown still frees the lease.
func (w *Worker) release(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.reports.ReleaseLease(dbctx.Context{Ctx: ctx}, id); err != nil {
		w.log.Warn("ReleaseLease failed", "report_id", id, "error", err)
	}
}
