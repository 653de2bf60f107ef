// Package worker composes the email dispatch loop: a startup recovery
// sweep, then a LISTEN-driven dispatch loop with reconnect-and-resweep on
// transport failure.
//
// The worker is safe to run as multiple independent instances: exclusivity
// is enforced by the database row lock in store.ClaimAndRun, not by any
// in-process coordination.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rrbarrero/seeker/internal/listen"
	"github.com/rrbarrero/seeker/internal/mail"
	"github.com/rrbarrero/seeker/internal/store"
)

// Config holds worker loop tuning parameters (sourced from config.Config).
type Config struct {
	// ReconnectDelay is how long to wait before re-subscribing after the
	// notification connection fails. Default 5s if zero.
	ReconnectDelay time.Duration
	// SweepInterval enables a periodic recovery sweep. Zero disables it;
	// the startup and post-reconnect sweeps always run.
	SweepInterval time.Duration
}

// Worker runs the dispatch loop until its context is cancelled.
type Worker struct {
	store    *store.Store
	proc     *Processor
	listener *listen.Listener
	cfg      Config
	log      *slog.Logger
}

// New creates a Worker that claims jobs from st, delivers them through
// sender, and wakes on notifications from l.
func New(st *store.Store, sender mail.Sender, l *listen.Listener, cfg Config) *Worker {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Worker{
		store:    st,
		proc:     NewProcessor(st, sender),
		listener: l,
		cfg:      cfg,
		log:      slog.Default(),
	}
}

// Run executes the recovery sweep once, then consumes notifications until
// ctx is cancelled. Transient errors never end the loop; Run returns nil on
// shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.Sweep(ctx)

	var wg sync.WaitGroup
	if w.cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runPeriodicSweep(ctx)
		}()
	}

	w.runListenLoop(ctx)
	wg.Wait()
	w.log.Info("worker stopped")
	return nil
}

// Sweep attempts every currently pending job once. Rows claimed or
// processed by another instance in the meantime are silent no-ops; per-job
// failures are logged and do not abort the sweep.
func (w *Worker) Sweep(ctx context.Context) {
	sweepRuns.Inc()
	ids, err := w.store.ListPending(ctx)
	if err != nil {
		w.log.Error("pending job scan failed", "error", err)
		return
	}
	if len(ids) == 0 {
		w.log.Debug("no pending jobs found")
		return
	}
	w.log.Info("sweeping pending jobs", "count", len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, id)
	}
}

func (w *Worker) runPeriodicSweep(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// runListenLoop subscribes, consumes notifications, and re-subscribes after
// a delay when the connection drops. Every re-subscribe is followed by a
// sweep, because notifications emitted while disconnected are lost for good.
func (w *Worker) runListenLoop(ctx context.Context) {
	defer w.listener.Close(context.Background()) //nolint:errcheck // best-effort teardown

	first := true
	for ctx.Err() == nil {
		if err := w.listener.Listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("subscribe failed", "error", err)
			w.sleep(ctx, w.cfg.ReconnectDelay)
			continue
		}
		if !first {
			listenerReconnects.Inc()
			w.Sweep(ctx)
		}
		first = false
		w.log.Info("listening for job notifications")

		w.recv(ctx)
		if ctx.Err() == nil {
			w.sleep(ctx, w.cfg.ReconnectDelay)
		}
	}
}

// recv consumes notifications until the stream breaks or ctx is cancelled.
func (w *Worker) recv(ctx context.Context) {
	for {
		id, err := w.listener.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("notification stream failed", "error", err)
			return
		}
		notificationsReceived.Inc()
		w.log.Info("received job notification", "job_id", id)
		w.process(ctx, id)
	}
}

// process runs one claim attempt and records the outcome.
func (w *Worker) process(ctx context.Context, id uuid.UUID) {
	claimed, err := w.proc.ProcessJob(ctx, id)
	if err != nil {
		jobsFailed.Inc()
		w.log.Error("job processing failed", "job_id", id, "error", err)
		return
	}
	if claimed {
		jobsProcessed.Inc()
		w.log.Info("job completed", "job_id", id)
	}
}

// sleep waits for d or until ctx is cancelled. Uses time.NewTimer (not
// time.After) to avoid leaking the timer on cancellation.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
