package player

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	resolver := StaticResolver{"guild1": {"general", "music", "afk"}}

	tests := []struct {
		name    string
		server  string
		exclude []string
		want    string
		wantErr bool
	}{
		{name: "first channel", server: "guild1", want: "general"},
		{name: "skips excluded", server: "guild1", exclude: []string{"general"}, want: "music"},
		{name: "all excluded", server: "guild1", exclude: []string{"general", "music", "afk"}, wantErr: true},
		{name: "unknown server", server: "guild2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResolveChannel(context.Background(), tt.server, tt.exclude)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogPlayer_Play(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewLogPlayer(StaticResolver{"guild1": {"general"}}, 0, logger)

	err := p.Play(context.Background(), Request{ServerID: "guild1", AudioRef: "bell.mp3"})
	require.NoError(t, err)

	err = p.Play(context.Background(), Request{ServerID: "guild1", AudioRef: "bell.mp3", ExcludeChannelIDs: []string{"general"}})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestLogPlayer_PlayInterrupted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewLogPlayer(StaticResolver{"guild1": {"general"}}, time.Minute, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Play(ctx, Request{ServerID: "guild1", AudioRef: "bell.mp3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
