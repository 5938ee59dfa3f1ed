package dto

import (
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
)

type CreateSoundCronRequest struct {
	Name              string   `json:"name" binding:"required"`
	Cron              string   `json:"cron" binding:"required"`
	Timezone          string   `json:"timezone"`
	Audio             string   `json:"audio" binding:"required"`
	Mute              bool     `json:"mute"`
	ExcludeChannelIDs []string `json:"exclude_channel_ids"`
	Description       string   `json:"description"`
}

// ToDomain builds the SoundCron described by the request for serverID
func (r CreateSoundCronRequest) ToDomain(serverID string) domain.SoundCron {
	return domain.SoundCron{
		ServerID:          serverID,
		Name:              r.Name,
		CronExpression:    r.Cron,
		Timezone:          r.Timezone,
		AudioRef:          r.Audio,
		Mute:              r.Mute,
		ExcludeChannelIDs: r.ExcludeChannelIDs,
		Description:       r.Description,
	}
}

type ListSoundCronsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListSoundCronsResponse struct {
	SoundCrons []SoundCronDTO `json:"soundcrons"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type SoundCronDTO struct {
	ServerID          string   `json:"server_id"`
	Name              string   `json:"name"`
	Cron              string   `json:"cron"`
	Timezone          string   `json:"timezone"`
	Audio             string   `json:"audio"`
	Mute              bool     `json:"mute"`
	ExcludeChannelIDs []string `json:"exclude_channel_ids"`
	Description       string   `json:"description,omitempty"`
}

func FromDomain(c domain.SoundCron) SoundCronDTO {
	return SoundCronDTO{
		ServerID:          c.ServerID,
		Name:              c.Name,
		Cron:              c.CronExpression,
		Timezone:          c.Timezone,
		Audio:             c.AudioRef,
		Mute:              c.Mute,
		ExcludeChannelIDs: c.ExcludeChannelIDs,
		Description:       c.Description,
	}
}

type StatusResponse struct {
	Key      string `json:"key"`
	Owner    string `json:"owner,omitempty"`
	Assigned bool   `json:"assigned"`
	LastRun  string `json:"last_run,omitempty"`
	RunCount int64  `json:"run_count"`
}

// NewStatusResponse combines the owner pointer and the last reported run
func NewStatusResponse(key, owner string, status *domain.JobStatus) StatusResponse {
	resp := StatusResponse{
		Key:      key,
		Owner:    owner,
		Assigned: owner != "",
	}
	if status != nil {
		resp.RunCount = status.RunCount
		if !status.LastRun.IsZero() {
			resp.LastRun = status.LastRun.Format(time.RFC3339)
		}
	}
	return resp
}

type UnassignedResponse struct {
	Keys []string `json:"keys"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
