// Package player performs the effect of a SoundCron: joining the busiest
// voice channel of a server and playing the audio.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoTarget is returned when no eligible voice channel exists
var ErrNoTarget = errors.New("no eligible voice channel")

// Request describes one execution of a SoundCron
type Request struct {
	ServerID          string
	AudioRef          string
	Mute              bool
	ExcludeChannelIDs []string
}

// Player plays a request and returns once playback finished or failed
type Player interface {
	Play(ctx context.Context, req Request) error
}

// ChannelResolver picks the target voice channel of a server
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, serverID string, exclude []string) (string, error)
}

// StaticResolver resolves every server to a fixed channel list, in priority
// order
type StaticResolver map[string][]string

func (r StaticResolver) ResolveChannel(_ context.Context, serverID string, exclude []string) (string, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	for _, channelID := range r[serverID] {
		if _, skip := excluded[channelID]; !skip {
			return channelID, nil
		}
	}
	return "", fmt.Errorf("server %s: %w", serverID, ErrNoTarget)
}

// LogPlayer stands in for the chat platform: it resolves the channel, honors
// exclusions, and logs the playback instead of streaming audio
type LogPlayer struct {
	resolver ChannelResolver
	duration time.Duration
	logger   *slog.Logger
}

var _ Player = (*LogPlayer)(nil)

// NewLogPlayer creates a LogPlayer that simulates playback lasting duration
func NewLogPlayer(resolver ChannelResolver, duration time.Duration, logger *slog.Logger) *LogPlayer {
	return &LogPlayer{
		resolver: resolver,
		duration: duration,
		logger:   logger,
	}
}

func (p *LogPlayer) Play(ctx context.Context, req Request) error {
	channelID, err := p.resolver.ResolveChannel(ctx, req.ServerID, req.ExcludeChannelIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve voice channel: %w", err)
	}

	p.logger.Info("Playing audio",
		slog.String("server_id", req.ServerID),
		slog.String("channel_id", channelID),
		slog.String("audio", req.AudioRef),
		slog.Bool("mute", req.Mute),
	)

	if p.duration > 0 {
		timer := time.NewTimer(p.duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("playback interrupted: %w", ctx.Err())
		}
	}

	p.logger.Debug("Playback finished",
		slog.String("server_id", req.ServerID),
		slog.String("channel_id", channelID),
	)
	return nil
}
