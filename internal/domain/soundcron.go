package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultTimezone is used when a SoundCron does not name a timezone
const DefaultTimezone = "UTC"

// SoundCron is one recurring job definition owned by a server (tenant).
//
// Generation identifies one incarnation of the job key: removing a job and
// adding it again under the same name yields a new generation, so markers
// left for the old incarnation never touch the new one.
type SoundCron struct {
	ServerID          string   `json:"server_id"`
	Name              string   `json:"name"`
	CronExpression    string   `json:"cron"`
	Timezone          string   `json:"timezone"`
	AudioRef          string   `json:"audio"`
	Mute              bool     `json:"mute"`
	ExcludeChannelIDs []string `json:"exclude_channel_ids"`
	Description       string   `json:"description,omitempty"`
	Generation        string   `json:"generation,omitempty"`
}

// Key returns the job key identifying this SoundCron in the queue and
// the coordination store
func (s SoundCron) Key() string {
	return JobKey(s.ServerID, s.Name)
}

// Location returns the effective timezone name, defaulting to UTC
func (s SoundCron) Location() string {
	if s.Timezone == "" {
		return DefaultTimezone
	}
	return s.Timezone
}

// Normalize fills defaults and sorts/dedupes excluded channels so that two
// SoundCrons describing the same job compare equal
func (s SoundCron) Normalize() SoundCron {
	s.Timezone = s.Location()
	s.ExcludeChannelIDs = normalizeChannels(s.ExcludeChannelIDs)
	return s
}

// IsExcluded reports whether channelID is exempt from execution
func (s SoundCron) IsExcluded(channelID string) bool {
	for _, id := range s.ExcludeChannelIDs {
		if id == channelID {
			return true
		}
	}
	return false
}

func normalizeChannels(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// JobKey builds the "serverId:name" identity of a SoundCron
func JobKey(serverID, name string) string {
	return serverID + ":" + name
}

// SplitJobKey reverses JobKey. Names may contain ':' but server IDs may not.
func SplitJobKey(key string) (serverID, name string, err error) {
	serverID, name, ok := strings.Cut(key, ":")
	if !ok || serverID == "" || name == "" {
		return "", "", fmt.Errorf("invalid job key %q", key)
	}
	return serverID, name, nil
}
