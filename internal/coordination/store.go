// Package coordination holds the shared assignment, heartbeat and liveness
// bookkeeping that the orchestrator and the workers use to agree on who owns
// which job key.
package coordination

import (
	"context"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// Store is the coordination store used by the orchestrator.
//
// Every mutating call is a single atomic operation on the backend. A key is
// in exactly one of: the unassigned set, one worker's assignment set, or
// nowhere (forgotten).
type Store interface {
	// AddUnassigned puts key into the unassigned set
	AddUnassigned(ctx context.Context, key string) error

	// RecordAssignment moves key from unassigned to workerID's set and writes
	// the owner pointer. If a different worker already owns key the store is
	// left untouched and that owner is returned with recorded == false.
	RecordAssignment(ctx context.Context, workerID, key string) (owner string, recorded bool, err error)

	// Unassign moves key from workerID's set back to unassigned. It reports
	// false without moving anything when another worker owns key.
	Unassign(ctx context.Context, workerID, key string) (bool, error)

	// Forget drops every trace of key except the removed marker
	Forget(ctx context.Context, key string) error

	Assignments(ctx context.Context, workerID string) ([]string, error)
	Owner(ctx context.Context, key string) (string, error)
	Unassigned(ctx context.Context) ([]string, error)
	Status(ctx context.Context, key string) (*domain.JobStatus, error)

	MasterHeartbeat(ctx context.Context, ttl time.Duration) error
	IsWorkerAlive(ctx context.Context, workerID string) (bool, error)

	// MarkRemoved flags one generation of key as removed. Other
	// generations of the same key are unaffected.
	MarkRemoved(ctx context.Context, key, generation string) error
	IsRemoved(ctx context.Context, key, generation string) (bool, error)
	MarkDead(ctx context.Context, workerID string) error
}

// WorkerStore is the subset of the coordination store a worker touches
type WorkerStore interface {
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	ReportStatus(ctx context.Context, status domain.JobStatus, ttl time.Duration) (StatusVerdict, error)
	IsMasterAlive(ctx context.Context) (bool, error)
	IsDead(ctx context.Context, workerID string) (bool, error)
	IsRemoved(ctx context.Context, key, generation string) (bool, error)
	ClearRemoved(ctx context.Context, key, generation string) (bool, error)
}

// StatusVerdict is the store's answer to a worker's status report
type StatusVerdict int

const (
	// StatusAccepted means the status was written and the assignment re-asserted
	StatusAccepted StatusVerdict = iota + 1
	// StatusRemoved means the reported generation of the key was removed
	StatusRemoved
	// StatusOwnedElsewhere means another worker holds the key
	StatusOwnedElsewhere
	// StatusWorkerDead means the reporting worker has been declared dead
	StatusWorkerDead
)

func (v StatusVerdict) String() string {
	switch v {
	case StatusAccepted:
		return "accepted"
	case StatusRemoved:
		return "removed"
	case StatusOwnedElsewhere:
		return "owned_elsewhere"
	case StatusWorkerDead:
		return "worker_dead"
	default:
		return "unknown"
	}
}

const keyPrefix = "soundcron:"

const (
	unassignedKey      = keyPrefix + "unassigned"
	removedKey         = keyPrefix + "removed"
	deadWorkersKey     = keyPrefix + "dead_workers"
	masterHeartbeatKey = keyPrefix + "heartbeat:master"
	workerKeyPrefix    = keyPrefix + "worker:"
)

// workerKey is the assignment set of a worker: soundcron:worker:{id}
func workerKey(workerID string) string { return workerKeyPrefix + workerID }

// ownerKey is the reverse pointer of a job key: soundcron:owner:{key}
func ownerKey(key string) string { return keyPrefix + "owner:" + key }

// heartbeatKey is the TTL key of a worker: soundcron:heartbeat:{id}
func heartbeatKey(workerID string) string { return keyPrefix + "heartbeat:" + workerID }

// statusKey is the TTL status record of a job: soundcron:status:{key}
func statusKey(key string) string { return keyPrefix + "status:" + key }

// removedMember is the member of the removed set for one generation of a
// key. Generations never contain '#', so the last '#' splits the two.
func removedMember(key, generation string) string { return key + "#" + generation }
