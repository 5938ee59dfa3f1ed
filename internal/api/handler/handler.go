package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// Orchestrator is the orchestration service as seen by the HTTP surface
type Orchestrator interface {
	AddCron(ctx context.Context, serverID string, cron domain.SoundCron) error
	RemoveCron(ctx context.Context, serverID, name string) error
	GetCron(ctx context.Context, serverID, name string) (*domain.SoundCron, error)
	ListCrons(ctx context.Context, serverID string) ([]domain.SoundCron, error)
	ListAllCrons(ctx context.Context) (map[string][]domain.SoundCron, error)
	Unassigned(ctx context.Context) ([]string, error)
	Status(ctx context.Context, key string) (string, *domain.JobStatus, error)
}

// HealthChecker is a backend probed by the health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator Orchestrator
	Checks       map[string]HealthChecker
}

// SoundCronHandler handles soundcron HTTP requests
type SoundCronHandler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
}

// NewSoundCronHandler creates a new SoundCronHandler instance
func NewSoundCronHandler(deps *Dependencies) *SoundCronHandler {
	return &SoundCronHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
	}
}
