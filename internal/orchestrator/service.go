// Package orchestrator keeps the repository, the scheduling queue and the
// asset warehouse consistent, learns which worker owns each job key, and
// resurrects the keys of workers that stop heartbeating.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/soundcron/internal/asset"
	"github.com/cuongbtq/soundcron/internal/coordination"
	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/cuongbtq/soundcron/internal/queue"
	"github.com/cuongbtq/soundcron/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config holds the liveness and resurrection tuning of the orchestrator
type Config struct {
	PollInterval             time.Duration
	MissedHeartbeatTolerance time.Duration
	MasterHeartbeatInterval  time.Duration
	MasterHeartbeatTTL       time.Duration
	ResurrectConcurrency     int
	ResurrectRate            float64
	ResurrectBurst           int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MissedHeartbeatTolerance <= 0 {
		c.MissedHeartbeatTolerance = 20 * time.Second
	}
	if c.MasterHeartbeatInterval <= 0 {
		c.MasterHeartbeatInterval = 5 * time.Second
	}
	if c.MasterHeartbeatTTL <= 0 {
		c.MasterHeartbeatTTL = 10 * time.Second
	}
	if c.ResurrectConcurrency <= 0 {
		c.ResurrectConcurrency = 8
	}
	if c.ResurrectBurst <= 0 {
		c.ResurrectBurst = 1
	}
	return c
}

// Service is the orchestration service
type Service struct {
	cfg      Config
	repo     repository.Repository
	producer queue.Producer
	coord    coordination.Store
	assets   asset.Store
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu        sync.Mutex
	monitored map[string]struct{}
	wg        sync.WaitGroup
}

// New creates an orchestration service
func New(
	cfg Config,
	repo repository.Repository,
	producer queue.Producer,
	coord coordination.Store,
	assets asset.Store,
	logger *slog.Logger,
) *Service {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.ResurrectRate > 0 {
		limit = rate.Limit(cfg.ResurrectRate)
	}

	return &Service{
		cfg:       cfg,
		repo:      repo,
		producer:  producer,
		coord:     coord,
		assets:    assets,
		limiter:   rate.NewLimiter(limit, cfg.ResurrectBurst),
		logger:    logger.With(slog.String("component", "orchestrator")),
		monitored: make(map[string]struct{}),
	}
}

// AddCron validates, persists, materializes and dispatches a SoundCron.
//
// The three side effects run concurrently. If any fails, the ones that
// succeeded are compensated and the first failure (in repository, asset,
// queue order) is returned as an *domain.OperationError.
func (s *Service) AddCron(ctx context.Context, serverID string, cron domain.SoundCron) error {
	cron.ServerID = serverID
	cron = cron.Normalize()
	key := cron.Key()

	if cron.Name == "" || serverID == "" {
		return domain.NewOperationError(domain.ReasonInvalidCron, errors.New("server id and name are required"))
	}
	if strings.Contains(serverID, ":") {
		return domain.NewOperationError(domain.ReasonInvalidCron, fmt.Errorf("server id %q must not contain ':'", serverID))
	}
	if _, _, err := domain.ParseSchedule(cron.CronExpression, cron.Timezone); err != nil {
		return domain.NewOperationError(domain.ReasonInvalidCron, err)
	}

	// A taken name is rejected before anything is dispatched; the unique
	// constraint still settles concurrent adds.
	if _, err := s.repo.GetCron(ctx, serverID, cron.Name); err == nil {
		return domain.NewOperationError(domain.ReasonDuplicateName, domain.ErrDuplicateName)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.NewOperationError(domain.ReasonStorage, err)
	}

	cron.Generation = uuid.NewString()
	steps := newAddSaga(s, cron)

	var g errgroup.Group
	for _, st := range steps.all() {
		g.Go(func() error {
			st.err = st.do(ctx)
			return st.err
		})
	}
	_ = g.Wait()

	if failed := steps.firstFailure(); failed != nil {
		s.logger.Error("Failed to add soundcron, compensating",
			slog.String("key", key),
			slog.String("step", failed.name),
			slog.Any("error", failed.err),
		)
		steps.compensate(context.WithoutCancel(ctx))
		return domain.NewOperationError(failed.reason(), failed.err)
	}

	if err := s.coord.AddUnassigned(ctx, key); err != nil {
		s.logger.Warn("SoundCron dispatched but not tracked as unassigned",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}

	s.logger.Info("SoundCron added",
		slog.String("key", key),
		slog.String("cron", cron.CronExpression),
		slog.String("timezone", cron.Timezone),
	)
	return nil
}

// RemoveCron stops and deletes a SoundCron. The job will not fire again once
// the removed marker is written; repository, asset and bookkeeping cleanup
// follow concurrently.
func (s *Service) RemoveCron(ctx context.Context, serverID, name string) error {
	cron, err := s.repo.GetCron(ctx, serverID, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewOperationError(domain.ReasonNotFound, err)
		}
		return domain.NewOperationError(domain.ReasonStorage, err)
	}
	key := cron.Key()

	if err := s.coord.MarkRemoved(ctx, key, cron.Generation); err != nil {
		return domain.NewOperationError(domain.ReasonStorage, err)
	}

	var repoErr error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := s.repo.RemoveCron(ctx, serverID, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			repoErr = err
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.assets.Remove(ctx, serverID, cron.AudioRef); err != nil {
			s.logger.Warn("Failed to remove soundcron audio",
				slog.String("key", key),
				slog.String("audio", cron.AudioRef),
				slog.Any("error", err),
			)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.coord.Forget(ctx, key); err != nil {
			s.logger.Warn("Failed to drop soundcron bookkeeping",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
	}()
	wg.Wait()

	if repoErr != nil {
		s.logger.Error("SoundCron stopped but not deleted",
			slog.String("key", key),
			slog.Any("error", repoErr),
		)
		return domain.NewOperationError(domain.ReasonStorage, repoErr)
	}

	s.logger.Info("SoundCron removed", slog.String("key", key))
	return nil
}

// GetCron returns one SoundCron
func (s *Service) GetCron(ctx context.Context, serverID, name string) (*domain.SoundCron, error) {
	cron, err := s.repo.GetCron(ctx, serverID, name)
	if err != nil {
		return nil, storageError(err)
	}
	return cron, nil
}

// ListCrons returns the SoundCrons of one server
func (s *Service) ListCrons(ctx context.Context, serverID string) ([]domain.SoundCron, error) {
	crons, err := s.repo.ListCrons(ctx, serverID)
	if err != nil {
		return nil, storageError(err)
	}
	return crons, nil
}

// ListAllCrons returns every SoundCron grouped by server
func (s *Service) ListAllCrons(ctx context.Context) (map[string][]domain.SoundCron, error) {
	all, err := s.repo.ListAllCrons(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return all, nil
}

// Unassigned returns the job keys dispatched but not yet claimed
func (s *Service) Unassigned(ctx context.Context) ([]string, error) {
	keys, err := s.coord.Unassigned(ctx)
	if err != nil {
		return nil, domain.NewOperationError(domain.ReasonStorage, err)
	}
	return keys, nil
}

// Status returns the owner and the last reported run of a job key
func (s *Service) Status(ctx context.Context, key string) (owner string, status *domain.JobStatus, err error) {
	owner, err = s.coord.Owner(ctx, key)
	if err != nil {
		return "", nil, domain.NewOperationError(domain.ReasonStorage, err)
	}

	status, err = s.coord.Status(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.NewOperationError(domain.ReasonStorage, err)
	}
	return owner, status, nil
}

func storageError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewOperationError(domain.ReasonNotFound, err)
	}
	return domain.NewOperationError(domain.ReasonStorage, err)
}
