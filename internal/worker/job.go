package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/cuongbtq/soundcron/internal/player"
	"github.com/robfig/cron/v3"
)

// job is one scheduled SoundCron with its own timer
type job struct {
	w      *Worker
	ctx    context.Context
	key    string
	gen    string
	cron   domain.SoundCron
	timer  *cron.Cron
	logger *slog.Logger

	stopped atomic.Bool

	mu       sync.Mutex
	lastRun  time.Time
	runCount int64
}

var _ cron.Job = (*job)(nil)

// newJob builds the timer for sc in its own timezone. The timer is not
// started. Executions of one job never overlap.
func (w *Worker) newJob(ctx context.Context, sc domain.SoundCron) (*job, error) {
	sched, loc, err := domain.ParseSchedule(sc.CronExpression, sc.Timezone)
	if err != nil {
		return nil, err
	}

	logger := w.logger.With(
		slog.String("key", sc.Key()),
		slog.String("generation", sc.Generation),
	)
	cl := cronLogger{logger: logger}

	j := &job{
		w:      w,
		ctx:    ctx,
		key:    sc.Key(),
		gen:    sc.Generation,
		cron:   sc,
		logger: logger,
		timer: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(domain.CronParser()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	j.timer.Schedule(sched, j)
	return j, nil
}

// Run is invoked by the timer on every tick
func (j *job) Run() {
	if j.stopped.Load() || j.ctx.Err() != nil {
		return
	}
	ctx := j.ctx

	removed, err := j.w.store.IsRemoved(ctx, j.key, j.gen)
	if err != nil {
		j.logger.Error("Failed to check removed marker, skipping tick", slog.Any("error", err))
		return
	}
	if removed {
		j.retire(ctx)
		return
	}

	masterAlive, err := j.w.store.IsMasterAlive(ctx)
	if err != nil {
		j.logger.Error("Failed to check master heartbeat, skipping tick", slog.Any("error", err))
		return
	}
	if !masterAlive {
		j.w.terminate(errMasterGone)
		return
	}

	dead, err := j.w.store.IsDead(ctx, j.w.id)
	if err != nil {
		j.logger.Error("Failed to check dead marker, skipping tick", slog.Any("error", err))
		return
	}
	if dead {
		j.w.terminate(errDeclaredDead)
		return
	}

	j.execute(ctx)
}

// retire stops the job after its generation was removed and clears the marker
func (j *job) retire(ctx context.Context) {
	j.stop()
	j.w.jobs.release(j)

	cleared, err := j.w.store.ClearRemoved(ctx, j.key, j.gen)
	if err != nil {
		j.logger.Error("Failed to clear removed marker", slog.Any("error", err))
	}
	j.logger.Info("SoundCron removed, timer stopped", slog.Bool("marker_cleared", cleared))
}

// abandon stops a job that another worker owns. The removed marker, if any,
// is left for the owner to clear.
func (j *job) abandon() {
	j.stop()
	if j.w.jobs.release(j) {
		j.logger.Warn("SoundCron owned by another worker, timer stopped")
	}
}

func (j *job) execute(ctx context.Context) {
	playCtx, cancel := context.WithTimeout(ctx, j.w.cfg.PlayerTimeout)
	defer cancel()

	start := time.Now()
	err := j.w.player.Play(playCtx, player.Request{
		ServerID:          j.cron.ServerID,
		AudioRef:          j.cron.AudioRef,
		Mute:              j.cron.Mute,
		ExcludeChannelIDs: j.cron.ExcludeChannelIDs,
	})

	j.mu.Lock()
	j.lastRun = start.UTC()
	j.runCount++
	count := j.runCount
	j.mu.Unlock()

	if err != nil {
		j.logger.Error("SoundCron execution failed",
			slog.Int64("run_count", count),
			slog.Any("error", err),
		)
		return
	}

	j.logger.Info("SoundCron executed",
		slog.Int64("run_count", count),
		slog.Duration("duration", time.Since(start)),
	)
}

// stop halts the timer. The returned context is done once the execution in
// flight, if any, has finished.
func (j *job) stop() context.Context {
	j.stopped.Store(true)
	return j.timer.Stop()
}

func (j *job) status() domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return domain.JobStatus{
		WorkerID:   j.w.id,
		Key:        j.key,
		Generation: j.gen,
		LastRun:    j.lastRun,
		RunCount:   j.runCount,
	}
}

// cronLogger routes the timer's logging onto slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(fmt.Sprintf("cron: %s", msg), keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(fmt.Sprintf("cron: %s", msg), append(keysAndValues, slog.Any("error", err))...)
}
