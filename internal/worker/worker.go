// Package worker is the Worker Runtime: it claims establishment messages,
// runs a timezone-aware timer per job key, executes the job's effect on each
// tick, heartbeats, and terminates when it has been written off.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/soundcron/internal/coordination"
	"github.com/cuongbtq/soundcron/internal/player"
	"github.com/cuongbtq/soundcron/internal/queue"
	"github.com/google/uuid"
)

var (
	// ErrTerminated is returned by Start when the worker must exit and leave
	// restart to the process supervisor
	ErrTerminated = errors.New("worker terminated")

	errMasterGone   = fmt.Errorf("%w: master heartbeat expired", ErrTerminated)
	errDeclaredDead = fmt.Errorf("%w: worker declared dead", ErrTerminated)
)

// Config holds worker configuration. An empty ID mints a fresh one.
type Config struct {
	ID                string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	StatusTTL         time.Duration
	PlayerTimeout     time.Duration
	ShutdownTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 3 * c.HeartbeatInterval
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = c.HeartbeatTTL
	}
	if c.PlayerTimeout <= 0 {
		c.PlayerTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// Worker represents one worker process
type Worker struct {
	id       string
	cfg      Config
	consumer queue.Consumer
	store    coordination.WorkerStore
	player   player.Player
	logger   *slog.Logger

	jobs  *registry
	fatal chan error
	wg    sync.WaitGroup
}

// NewWorker creates a worker. The identity lives as long as the process; a
// restarted process is a new worker.
func NewWorker(
	cfg Config,
	consumer queue.Consumer,
	store coordination.WorkerStore,
	p player.Player,
	logger *slog.Logger,
) *Worker {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Worker{
		id:       id,
		cfg:      cfg.withDefaults(),
		consumer: consumer,
		store:    store,
		player:   p,
		logger:   logger.With(slog.String("worker_id", id)),
		jobs:     newRegistry(),
		fatal:    make(chan error, 1),
	}
}

// ID returns the worker identity
func (w *Worker) ID() string {
	return w.id
}

// Start heartbeats, consumes establishment messages and runs the job timers
// until ctx is canceled or the worker must terminate. In the latter case the
// returned error wraps ErrTerminated.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.logger.Info("Starting worker",
		slog.Duration("heartbeat_interval", w.cfg.HeartbeatInterval),
		slog.Duration("heartbeat_ttl", w.cfg.HeartbeatTTL),
	)

	if err := w.store.Heartbeat(ctx, w.id, w.cfg.HeartbeatTTL); err != nil {
		return fmt.Errorf("failed to write initial heartbeat: %w", err)
	}

	deliveries, err := w.consumer.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.heartbeatLoop(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.dispatch(ctx, deliveries)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case runErr = <-w.fatal:
		w.logger.Error("Worker terminating", slog.Any("error", runErr))
	}

	cancel()
	w.stopJobs()
	w.wg.Wait()

	w.logger.Info("Worker stopped")
	return runErr
}

// terminate asks Start to return err. Only the first call wins.
func (w *Worker) terminate(err error) {
	select {
	case w.fatal <- err:
	default:
	}
}

// stopJobs stops every timer and waits for in-flight executions up to the
// shutdown timeout
func (w *Worker) stopJobs() {
	if keys := w.jobs.keys(); len(keys) > 0 {
		w.logger.Info("Stopping scheduled soundcrons", slog.Any("keys", keys))
	}

	jobs := w.jobs.drain()
	if len(jobs) == 0 {
		return
	}

	done := make([]context.Context, 0, len(jobs))
	for _, j := range jobs {
		done = append(done, j.stop())
	}

	timeout := time.NewTimer(w.cfg.ShutdownTimeout)
	defer timeout.Stop()
	for _, ctx := range done {
		select {
		case <-ctx.Done():
		case <-timeout.C:
			w.logger.Warn("Shutdown timeout reached with executions in flight")
			return
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

// beat refreshes the worker heartbeat and reports the status of every job.
// A job whose report is refused is stopped here rather than at its next tick.
func (w *Worker) beat(ctx context.Context) {
	if err := w.store.Heartbeat(ctx, w.id, w.cfg.HeartbeatTTL); err != nil {
		w.logger.Error("Failed to send heartbeat", slog.Any("error", err))
	}

	for _, j := range w.jobs.snapshot() {
		verdict, err := w.store.ReportStatus(ctx, j.status(), w.cfg.StatusTTL)
		if err != nil {
			w.logger.Warn("Failed to report job status",
				slog.String("key", j.key),
				slog.Any("error", err),
			)
			continue
		}

		switch verdict {
		case coordination.StatusRemoved:
			j.retire(ctx)
		case coordination.StatusOwnedElsewhere:
			j.abandon()
		case coordination.StatusWorkerDead:
			w.terminate(errDeclaredDead)
			return
		}
	}
}
