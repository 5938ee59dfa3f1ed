package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKey(t *testing.T) {
	key := JobKey("guild1", "morning")
	assert.Equal(t, "guild1:morning", key)

	serverID, name, err := SplitJobKey(key)
	require.NoError(t, err)
	assert.Equal(t, "guild1", serverID)
	assert.Equal(t, "morning", name)

	serverID, name, err = SplitJobKey("guild1:lunch:late")
	require.NoError(t, err)
	assert.Equal(t, "guild1", serverID)
	assert.Equal(t, "lunch:late", name)

	for _, bad := range []string{"", "guild1", ":morning", "guild1:"} {
		_, _, err := SplitJobKey(bad)
		assert.Error(t, err, "key %q should be rejected", bad)
	}
}

func TestSoundCron_Normalize(t *testing.T) {
	cron := SoundCron{
		ServerID:          "guild1",
		Name:              "morning",
		CronExpression:    "0 9 * * *",
		ExcludeChannelIDs: []string{"c2", " c1 ", "c2", ""},
	}

	got := cron.Normalize()

	assert.Equal(t, "UTC", got.Timezone)
	assert.Equal(t, []string{"c1", "c2"}, got.ExcludeChannelIDs)
	assert.True(t, got.IsExcluded("c1"))
	assert.False(t, got.IsExcluded("c3"))
	assert.Equal(t, []string{}, SoundCron{}.Normalize().ExcludeChannelIDs)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		timezone string
		wantErr  bool
	}{
		{name: "five fields", expr: "0 9 * * *", timezone: "UTC"},
		{name: "with seconds", expr: "30 0 9 * * *", timezone: "America/Chicago"},
		{name: "descriptor", expr: "@hourly", timezone: ""},
		{name: "every", expr: "@every 1m", timezone: "Europe/Berlin"},
		{name: "not a cron", expr: "not-a-cron", timezone: "UTC", wantErr: true},
		{name: "empty", expr: "", timezone: "UTC", wantErr: true},
		{name: "bad timezone", expr: "0 9 * * *", timezone: "Mars/Olympus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, loc, err := ParseSchedule(tt.expr, tt.timezone)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCron)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sched)
			assert.NotNil(t, loc)
		})
	}
}

func TestOperationError(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := fmt.Errorf("wrapped: %w", NewOperationError(ReasonQueue, cause))

	assert.ErrorIs(t, err, ErrQueue)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Equal(t, ReasonQueue, ReasonOf(err))
	assert.Equal(t, Reason(""), ReasonOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "QueueError")
}

func TestNewEstablishMessage(t *testing.T) {
	msg := NewEstablishMessage(SoundCron{ServerID: "guild1", Name: "morning", CronExpression: "0 9 * * *"})

	assert.Equal(t, "guild1:morning", msg.Key)
	assert.Equal(t, "UTC", msg.SoundCron.Timezone)
	assert.False(t, msg.IssuedAt.IsZero())
}
