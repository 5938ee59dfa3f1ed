package domain

import "time"

// EstablishMessage is published to the establishment queue; the worker that
// consumes it takes ownership of the job key
type EstablishMessage struct {
	Key        string    `json:"key"`
	Generation string    `json:"generation,omitempty"`
	SoundCron  SoundCron `json:"soundcron"`
	IssuedAt   time.Time `json:"issued_at"`
}

// NewEstablishMessage builds the establishment payload for cron
func NewEstablishMessage(cron SoundCron) EstablishMessage {
	cron = cron.Normalize()
	return EstablishMessage{
		Key:        cron.Key(),
		Generation: cron.Generation,
		SoundCron:  cron,
		IssuedAt:   time.Now().UTC(),
	}
}

// Established is the consumption event a worker reports once it has
// scheduled a job key
type Established struct {
	Key           string    `json:"key"`
	Generation    string    `json:"generation,omitempty"`
	WorkerID      string    `json:"worker_id"`
	EstablishedAt time.Time `json:"established_at"`
}

// JobStatus is the live status a worker reports for each scheduled job on
// every heartbeat
type JobStatus struct {
	WorkerID   string    `json:"worker_id"`
	Key        string    `json:"key"`
	Generation string    `json:"generation,omitempty"`
	LastRun    time.Time `json:"last_run,omitempty"`
	RunCount   int64     `json:"run_count"`
}
