// Package asset asks the audio warehouse to materialize or drop the audio
// file a SoundCron plays.
package asset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// Store is the asset collaborator of the orchestrator
type Store interface {
	Download(ctx context.Context, serverID, audioRef string) error
	Remove(ctx context.Context, serverID, audioRef string) error
}

// Warehouse is an HTTP client for the audio warehouse service.
//
//	POST   {endpoint}/soundcron/{serverID}/{audioRef}  materialize
//	DELETE {endpoint}/soundcron/{serverID}/{audioRef}  drop
type Warehouse struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

var _ Store = (*Warehouse)(nil)

// NewWarehouse creates a warehouse client. A zero timeout means no timeout.
func NewWarehouse(endpoint string, timeout time.Duration, logger *slog.Logger) *Warehouse {
	return &Warehouse{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (w *Warehouse) Download(ctx context.Context, serverID, audioRef string) error {
	return w.do(ctx, http.MethodPost, serverID, audioRef)
}

func (w *Warehouse) Remove(ctx context.Context, serverID, audioRef string) error {
	return w.do(ctx, http.MethodDelete, serverID, audioRef)
}

func (w *Warehouse) do(ctx context.Context, method, serverID, audioRef string) error {
	target := fmt.Sprintf("%s/soundcron/%s/%s", w.endpoint, url.PathEscape(serverID), url.PathEscape(audioRef))

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build warehouse request: %w: %w", domain.ErrAsset, err)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call warehouse: %w: %w", domain.ErrAsset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("warehouse %s %s returned %d: %w: %s",
			method, audioRef, resp.StatusCode, domain.ErrAsset, strings.TrimSpace(string(body)))
	}

	w.logger.Debug("Warehouse request completed",
		slog.String("method", method),
		slog.String("server_id", serverID),
		slog.String("audio", audioRef),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
