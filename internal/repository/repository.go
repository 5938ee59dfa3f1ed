// Package repository persists SoundCron definitions for all servers.
package repository

import (
	"context"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// Repository is durable CRUD over SoundCron definitions.
//
// AddCron is transactional: the server row, the soundcron row and all of its
// excluded channels are written together or not at all. A taken
// (server_id, name) pair fails with domain.ErrDuplicateName, a missing row on
// GetCron or RemoveCron fails with domain.ErrNotFound, and every other fault
// wraps domain.ErrStorage.
type Repository interface {
	AddCron(ctx context.Context, serverID string, cron domain.SoundCron) error
	RemoveCron(ctx context.Context, serverID, name string) error
	GetCron(ctx context.Context, serverID, name string) (*domain.SoundCron, error)
	ListCrons(ctx context.Context, serverID string) ([]domain.SoundCron, error)
	ListAllCrons(ctx context.Context) (map[string][]domain.SoundCron, error)
}
