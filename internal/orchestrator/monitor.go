package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Run starts the master heartbeat, re-establishes every persisted SoundCron
// and then follows establishment completions until ctx is done. It returns
// an error if startup fails or the completion stream ends early.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.coord.MasterHeartbeat(ctx, s.cfg.MasterHeartbeatTTL); err != nil {
		return fmt.Errorf("failed to write master heartbeat: %w", err)
	}

	completions, err := s.producer.Completions(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to completions: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.masterHeartbeatLoop(ctx)
	}()

	if err := s.StartAll(ctx); err != nil {
		s.logger.Error("Failed to re-establish soundcrons on startup", slog.Any("error", err))
	}

	err = s.watchCompletions(ctx, completions)
	cancel()
	s.wg.Wait()
	return err
}

// StartAll dispatches every persisted SoundCron. Keys held by a live worker
// are left alone and that worker is monitored instead.
func (s *Service) StartAll(ctx context.Context) error {
	all, err := s.repo.ListAllCrons(ctx)
	if err != nil {
		return fmt.Errorf("failed to list soundcrons: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.ResurrectConcurrency)

	total := 0
	for _, crons := range all {
		for _, cron := range crons {
			total++
			g.Go(func() error {
				s.establish(ctx, cron)
				return nil
			})
		}
	}
	_ = g.Wait()

	s.logger.Info("SoundCrons re-established",
		slog.Int("servers", len(all)),
		slog.Int("soundcrons", total),
	)
	return nil
}

func (s *Service) establish(ctx context.Context, cron domain.SoundCron) {
	key := cron.Key()

	owner, err := s.coord.Owner(ctx, key)
	if err != nil {
		s.logger.Error("Failed to look up owner", slog.String("key", key), slog.Any("error", err))
		return
	}

	if owner != "" {
		alive, err := s.coord.IsWorkerAlive(ctx, owner)
		if err != nil {
			s.logger.Error("Failed to check owner liveness",
				slog.String("key", key),
				slog.String("worker_id", owner),
				slog.Any("error", err),
			)
			return
		}
		if alive {
			s.monitor(ctx, owner)
			return
		}
		if _, err := s.coord.Unassign(ctx, owner, key); err != nil {
			s.logger.Error("Failed to unassign key of dead owner",
				slog.String("key", key),
				slog.String("worker_id", owner),
				slog.Any("error", err),
			)
			return
		}
	}

	if err := s.producer.Enqueue(ctx, domain.NewEstablishMessage(cron)); err != nil {
		s.logger.Error("Failed to enqueue soundcron", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := s.coord.AddUnassigned(ctx, key); err != nil {
		s.logger.Warn("Failed to track key as unassigned", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) watchCompletions(ctx context.Context, completions <-chan domain.Established) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-completions:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("completion stream closed")
			}
			s.handleEstablished(ctx, ev)
		}
	}
}

func (s *Service) handleEstablished(ctx context.Context, ev domain.Established) {
	logger := s.logger.With(
		slog.String("key", ev.Key),
		slog.String("generation", ev.Generation),
		slog.String("worker_id", ev.WorkerID),
	)

	removed, err := s.coord.IsRemoved(ctx, ev.Key, ev.Generation)
	if err != nil {
		logger.Error("Failed to check removed marker", slog.Any("error", err))
	}
	if removed {
		logger.Info("Establishment of removed soundcron ignored")
		return
	}

	owner, recorded, err := s.coord.RecordAssignment(ctx, ev.WorkerID, ev.Key)
	switch {
	case err != nil:
		logger.Error("Failed to record assignment", slog.Any("error", err))
	case !recorded:
		logger.Warn("Duplicate establishment, earlier owner kept",
			slog.String("owner", owner),
		)
	default:
		logger.Info("Assignment recorded")
	}

	s.monitor(ctx, ev.WorkerID)
}

// monitor starts one liveness monitor per worker
func (s *Service) monitor(ctx context.Context, workerID string) {
	s.mu.Lock()
	if _, ok := s.monitored[workerID]; ok {
		s.mu.Unlock()
		return
	}
	s.monitored[workerID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.monitored, workerID)
			s.mu.Unlock()
		}()
		s.watchWorker(ctx, workerID)
	}()
}

// isMonitored reports whether a liveness monitor is running for workerID
func (s *Service) isMonitored(workerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitored[workerID]
	return ok
}

func (s *Service) watchWorker(ctx context.Context, workerID string) {
	logger := s.logger.With(slog.String("worker_id", workerID))
	logger.Debug("Monitoring worker")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	lastSeen := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := s.coord.IsWorkerAlive(ctx, workerID)
			if err != nil {
				logger.Warn("Failed to check worker heartbeat", slog.Any("error", err))
				continue
			}
			if alive {
				lastSeen = time.Now()
				continue
			}

			missing := time.Since(lastSeen)
			if missing < s.cfg.MissedHeartbeatTolerance {
				logger.Debug("Worker heartbeat missing", slog.Duration("missing", missing))
				continue
			}

			logger.Warn("Worker died, resurrecting its soundcrons", slog.Duration("missing", missing))
			s.resurrect(ctx, workerID)
			return
		}
	}
}

// resurrect re-dispatches every key of a dead worker. One key failing never
// blocks the others.
func (s *Service) resurrect(ctx context.Context, workerID string) {
	keys, err := s.coord.Assignments(ctx, workerID)
	if err != nil {
		s.logger.Error("Failed to list assignments of dead worker",
			slog.String("worker_id", workerID),
			slog.Any("error", err),
		)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.ResurrectConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			s.resurrectKey(ctx, workerID, key)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.coord.MarkDead(ctx, workerID); err != nil {
		s.logger.Error("Failed to mark worker dead",
			slog.String("worker_id", workerID),
			slog.Any("error", err),
		)
	}

	s.logger.Info("Worker resurrection finished",
		slog.String("worker_id", workerID),
		slog.Int("keys", len(keys)),
	)
}

func (s *Service) resurrectKey(ctx context.Context, workerID, key string) {
	logger := s.logger.With(
		slog.String("key", key),
		slog.String("worker_id", workerID),
	)

	serverID, name, err := domain.SplitJobKey(key)
	if err != nil {
		logger.Warn("Skipping malformed job key", slog.Any("error", err))
		return
	}

	cron, err := s.repo.GetCron(ctx, serverID, name)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Assigned soundcron no longer exists, skipping")
		if err := s.coord.Forget(ctx, key); err != nil {
			logger.Warn("Failed to drop stale assignment", slog.Any("error", err))
		}
		return
	}
	if err != nil {
		logger.Error("Failed to load soundcron for resurrection", slog.Any("error", err))
		return
	}

	moved, err := s.coord.Unassign(ctx, workerID, key)
	if err != nil {
		logger.Error("Failed to unassign key", slog.Any("error", err))
		return
	}
	if !moved {
		logger.Info("Key already owned by another worker, skipping")
		return
	}

	if err := s.producer.Enqueue(ctx, domain.NewEstablishMessage(*cron)); err != nil {
		logger.Error("Failed to re-enqueue soundcron", slog.Any("error", err))
		return
	}

	logger.Info("SoundCron resurrected")
}

func (s *Service) masterHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MasterHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.coord.MasterHeartbeat(ctx, s.cfg.MasterHeartbeatTTL); err != nil {
				s.logger.Error("Failed to write master heartbeat", slog.Any("error", err))
			}
		}
	}
}
