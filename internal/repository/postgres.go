package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Postgres implements Repository on top of PostgreSQL
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ Repository = (*Postgres)(nil)

// NewPostgres creates a new Postgres repository
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

type soundCronRow struct {
	ServerID        string         `db:"server_id"`
	Name            string         `db:"soundcron_name"`
	Cron            string         `db:"cron"`
	Timezone        string         `db:"timezone"`
	Audio           string         `db:"audio"`
	Mute            bool           `db:"mute"`
	Description     string         `db:"soundcron_description"`
	Generation      string         `db:"generation"`
	ExcludeChannels pq.StringArray `db:"exclude_channels"`
}

func (r soundCronRow) toDomain() domain.SoundCron {
	return domain.SoundCron{
		ServerID:          r.ServerID,
		Name:              r.Name,
		CronExpression:    r.Cron,
		Timezone:          r.Timezone,
		AudioRef:          r.Audio,
		Mute:              r.Mute,
		ExcludeChannelIDs: []string(r.ExcludeChannels),
		Description:       r.Description,
		Generation:        r.Generation,
	}.Normalize()
}

const selectSoundCrons = `
	SELECT
		sc.server_id, sc.soundcron_name, sc.cron, sc.timezone, sc.audio,
		sc.mute, sc.soundcron_description, sc.generation,
		COALESCE(
			array_agg(ec.channel_id ORDER BY ec.channel_id) FILTER (WHERE ec.channel_id IS NOT NULL),
			'{}'
		) AS exclude_channels
	FROM soundcrons sc
	LEFT JOIN excluded_channels ec ON ec.soundcron_id = sc.soundcron_id
`

// AddCron inserts the server (if new), the soundcron and its excluded
// channels in one transaction
func (p *Postgres) AddCron(ctx context.Context, serverID string, cron domain.SoundCron) (err error) {
	cron = cron.Normalize()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", domain.ErrStorage, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.Error("Failed to rollback soundcron insert",
				slog.String("server_id", serverID),
				slog.String("name", cron.Name),
				slog.Any("error", rbErr),
			)
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO servers (server_id) VALUES ($1) ON CONFLICT (server_id) DO NOTHING`,
		serverID,
	); err != nil {
		return fmt.Errorf("failed to upsert server: %w: %w", domain.ErrStorage, err)
	}

	var soundCronID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO soundcrons (
			server_id, soundcron_name, cron, timezone,
			audio, mute, soundcron_description, generation
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
		RETURNING soundcron_id
	`,
		serverID,
		cron.Name,
		cron.CronExpression,
		cron.Timezone,
		cron.AudioRef,
		cron.Mute,
		cron.Description,
		cron.Generation,
	).Scan(&soundCronID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("failed to insert soundcron %s: %w", domain.JobKey(serverID, cron.Name), domain.ErrDuplicateName)
		}
		return fmt.Errorf("failed to insert soundcron: %w: %w", domain.ErrStorage, err)
	}

	for _, channelID := range cron.ExcludeChannelIDs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO excluded_channels (soundcron_id, channel_id) VALUES ($1, $2)`,
			soundCronID, channelID,
		); err != nil {
			return fmt.Errorf("failed to insert excluded channel %s: %w: %w", channelID, domain.ErrStorage, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit soundcron insert: %w: %w", domain.ErrStorage, err)
	}

	p.logger.Debug("SoundCron persisted",
		slog.String("key", cron.Key()),
		slog.Int64("soundcron_id", soundCronID),
		slog.Int("excluded_channels", len(cron.ExcludeChannelIDs)),
	)

	return nil
}

// RemoveCron deletes a soundcron; excluded channels cascade
func (p *Postgres) RemoveCron(ctx context.Context, serverID, name string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM soundcrons WHERE server_id = $1 AND soundcron_name = $2`,
		serverID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete soundcron: %w: %w", domain.ErrStorage, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w: %w", domain.ErrStorage, err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// GetCron retrieves a single soundcron by server and name
func (p *Postgres) GetCron(ctx context.Context, serverID, name string) (*domain.SoundCron, error) {
	query := selectSoundCrons + `
		WHERE sc.server_id = $1 AND sc.soundcron_name = $2
		GROUP BY sc.soundcron_id
	`

	var row soundCronRow
	if err := p.db.GetContext(ctx, &row, query, serverID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get soundcron: %w: %w", domain.ErrStorage, err)
	}

	cron := row.toDomain()
	return &cron, nil
}

// ListCrons returns every soundcron of a server ordered by name
func (p *Postgres) ListCrons(ctx context.Context, serverID string) ([]domain.SoundCron, error) {
	query := selectSoundCrons + `
		WHERE sc.server_id = $1
		GROUP BY sc.soundcron_id
		ORDER BY sc.soundcron_name
	`

	var rows []soundCronRow
	if err := p.db.SelectContext(ctx, &rows, query, serverID); err != nil {
		return nil, fmt.Errorf("failed to list soundcrons: %w: %w", domain.ErrStorage, err)
	}

	crons := make([]domain.SoundCron, len(rows))
	for i, row := range rows {
		crons[i] = row.toDomain()
	}
	return crons, nil
}

// ListAllCrons returns the soundcrons of every server grouped by server ID
func (p *Postgres) ListAllCrons(ctx context.Context) (map[string][]domain.SoundCron, error) {
	query := selectSoundCrons + `
		GROUP BY sc.soundcron_id
		ORDER BY sc.server_id, sc.soundcron_name
	`

	var rows []soundCronRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list all soundcrons: %w: %w", domain.ErrStorage, err)
	}

	result := make(map[string][]domain.SoundCron)
	for _, row := range rows {
		result[row.ServerID] = append(result[row.ServerID], row.toDomain())
	}
	return result, nil
}
