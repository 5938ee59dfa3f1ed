package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// sagaStep is one side effect of AddCron together with its compensation
type sagaStep struct {
	name string
	fail domain.Reason
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
	err  error
}

func (st *sagaStep) reason() domain.Reason {
	if errors.Is(st.err, domain.ErrDuplicateName) {
		return domain.ReasonDuplicateName
	}
	return st.fail
}

// addSaga holds the three steps of AddCron. Steps run concurrently;
// failures are reported in repository, asset, queue order and compensated
// in queue, repository, asset order.
type addSaga struct {
	s       *Service
	cron    domain.SoundCron
	persist *sagaStep
	fetch   *sagaStep
	enqueue *sagaStep
}

func newAddSaga(s *Service, cron domain.SoundCron) *addSaga {
	a := &addSaga{s: s, cron: cron}

	a.persist = &sagaStep{
		name: "repository",
		fail: domain.ReasonStorage,
		do: func(ctx context.Context) error {
			return s.repo.AddCron(ctx, cron.ServerID, cron)
		},
		undo: func(ctx context.Context) error {
			return s.repo.RemoveCron(ctx, cron.ServerID, cron.Name)
		},
	}

	a.fetch = &sagaStep{
		name: "asset",
		fail: domain.ReasonAsset,
		do: func(ctx context.Context) error {
			return s.assets.Download(ctx, cron.ServerID, cron.AudioRef)
		},
		undo: func(ctx context.Context) error {
			return s.assets.Remove(ctx, cron.ServerID, cron.AudioRef)
		},
	}

	a.enqueue = &sagaStep{
		name: "queue",
		fail: domain.ReasonQueue,
		do: func(ctx context.Context) error {
			return s.producer.Enqueue(ctx, domain.NewEstablishMessage(cron))
		},
		undo: a.unqueue,
	}

	return a
}

func (a *addSaga) all() []*sagaStep {
	return []*sagaStep{a.persist, a.fetch, a.enqueue}
}

func (a *addSaga) firstFailure() *sagaStep {
	for _, st := range a.all() {
		if st.err != nil {
			return st
		}
	}
	return nil
}

// unqueue takes the establish message back. When a worker already consumed
// it, this generation of the key is marked removed so that worker stops at
// its next tick. Other generations, such as the job that won a concurrent
// duplicate add, are untouched.
func (a *addSaga) unqueue(ctx context.Context) error {
	key := a.cron.Key()
	err := a.s.producer.Remove(ctx, key)
	if err == nil || !errors.Is(err, domain.ErrNotQueued) {
		return err
	}

	a.s.logger.Info("Establish message already consumed, marking generation removed",
		slog.String("key", key),
		slog.String("generation", a.cron.Generation),
	)
	return a.s.coord.MarkRemoved(ctx, key, a.cron.Generation)
}

// compensate undoes every succeeded step. Failures are logged only.
// It must run after every step has returned.
func (a *addSaga) compensate(ctx context.Context) {
	for _, st := range []*sagaStep{a.enqueue, a.persist, a.fetch} {
		if st.err != nil {
			continue
		}
		if err := st.undo(ctx); err != nil {
			a.s.logger.Error("Compensation failed",
				slog.String("key", a.cron.Key()),
				slog.String("step", st.name),
				slog.Any("error", err),
			)
			continue
		}
		a.s.logger.Info("Compensated saga step",
			slog.String("key", a.cron.Key()),
			slog.String("step", st.name),
		)
	}
}
