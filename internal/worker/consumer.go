package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/cuongbtq/soundcron/internal/queue"
)

// dispatch takes establishment deliveries until ctx is canceled. A closed
// stream terminates the worker.
func (w *Worker) dispatch(ctx context.Context, deliveries <-chan queue.Delivery) {
	w.logger.Info("Establishment consumer started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Establishment consumer stopped - context canceled")
			return

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Warn("Establishment delivery stream closed")
					w.terminate(fmt.Errorf("%w: establishment delivery stream closed", ErrTerminated))
				}
				return
			}
			w.establish(ctx, d)
		}
	}
}

// establish schedules the delivered SoundCron, settles the delivery and
// reports the claim back to the orchestrator
func (w *Worker) establish(ctx context.Context, d queue.Delivery) {
	msg := d.Message
	sc := msg.SoundCron.Normalize()
	logger := w.logger.With(
		slog.String("key", msg.Key),
		slog.String("generation", msg.Generation),
	)

	if msg.Key == "" || msg.Key != sc.Key() {
		logger.Error("Establishment message key does not match its soundcron",
			slog.String("soundcron_key", sc.Key()),
		)
		// NACK without requeue, a malformed message never becomes valid
		if err := d.Nack(false); err != nil {
			logger.Error("Failed to NACK malformed message", slog.Any("error", err))
		}
		return
	}

	j, err := w.newJob(ctx, sc)
	if err != nil {
		logger.Error("Invalid schedule in establishment message",
			slog.String("cron", sc.CronExpression),
			slog.String("timezone", sc.Timezone),
			slog.Any("error", err),
		)
		if err := d.Nack(false); err != nil {
			logger.Error("Failed to NACK message with invalid schedule", slog.Any("error", err))
		}
		return
	}

	removed, err := w.store.IsRemoved(ctx, msg.Key, msg.Generation)
	if err != nil {
		// the first tick checks the marker again
		logger.Error("Failed to check removed marker", slog.Any("error", err))
	}
	if removed {
		logger.Info("Establishment of removed generation dropped")
		if err := d.Ack(); err != nil {
			logger.Error("Failed to ACK establishment message", slog.Any("error", err))
		}
		return
	}

	w.retireRemovedGeneration(ctx, msg.Key, msg.Generation)

	if w.jobs.claim(j) {
		j.timer.Start()
		logger.Info("SoundCron scheduled",
			slog.String("cron", sc.CronExpression),
			slog.String("timezone", sc.Timezone),
		)
	} else {
		logger.Warn("Key already scheduled by this worker, dropping duplicate establishment")
	}

	if err := d.Ack(); err != nil {
		logger.Error("Failed to ACK establishment message", slog.Any("error", err))
	}

	ev := domain.Established{
		Key:           msg.Key,
		Generation:    msg.Generation,
		WorkerID:      w.id,
		EstablishedAt: time.Now().UTC(),
	}
	if err := w.consumer.ReportEstablished(ctx, ev); err != nil {
		// the next heartbeat re-asserts the assignment
		logger.Error("Failed to report establishment", slog.Any("error", err))
	}
}

// retireRemovedGeneration makes room for generation of key when this worker
// still runs an earlier generation that has been removed
func (w *Worker) retireRemovedGeneration(ctx context.Context, key, generation string) {
	old, ok := w.jobs.get(key)
	if !ok || old.gen == generation {
		return
	}

	removed, err := w.store.IsRemoved(ctx, old.key, old.gen)
	if err != nil {
		old.logger.Error("Failed to check removed marker", slog.Any("error", err))
		return
	}
	if removed {
		old.retire(ctx)
	}
}
