package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/redis/go-redis/v9"
)

// KEYS: unassigned, owner pointer
// ARGV: job key
var addUnassignedScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[2]) == 1 then
		return 0
	end
	return redis.call('SADD', KEYS[1], ARGV[1])
`)

// KEYS: unassigned, worker set, owner pointer
// ARGV: worker id, job key
var recordAssignmentScript = redis.NewScript(`
	local owner = redis.call('GET', KEYS[3])
	if owner and owner ~= ARGV[1] then
		return owner
	end
	redis.call('SREM', KEYS[1], ARGV[2])
	redis.call('SADD', KEYS[2], ARGV[2])
	redis.call('SET', KEYS[3], ARGV[1])
	return ''
`)

// KEYS: worker set, unassigned, owner pointer
// ARGV: worker id, job key
var unassignScript = redis.NewScript(`
	local owner = redis.call('GET', KEYS[3])
	redis.call('SREM', KEYS[1], ARGV[2])
	if owner and owner ~= ARGV[1] then
		return 0
	end
	redis.call('SADD', KEYS[2], ARGV[2])
	redis.call('DEL', KEYS[3])
	return 1
`)

// KEYS: unassigned, owner pointer, status record
// ARGV: job key, worker set prefix
var forgetScript = redis.NewScript(`
	local owner = redis.call('GET', KEYS[2])
	if owner then
		redis.call('SREM', ARGV[2] .. owner, ARGV[1])
	end
	redis.call('SREM', KEYS[1], ARGV[1])
	redis.call('DEL', KEYS[2], KEYS[3])
	return 1
`)

// KEYS: unassigned, worker set, owner pointer, status record, removed set, dead workers
// ARGV: worker id, job key, status json, status ttl ms, removed member
// Returns a StatusVerdict.
var reportStatusScript = redis.NewScript(`
	if redis.call('SISMEMBER', KEYS[5], ARGV[5]) == 1 then
		return 2
	end
	if redis.call('SISMEMBER', KEYS[6], ARGV[1]) == 1 then
		return 4
	end
	local owner = redis.call('GET', KEYS[3])
	if owner and owner ~= ARGV[1] then
		return 3
	end
	redis.call('SET', KEYS[4], ARGV[3], 'PX', ARGV[4])
	redis.call('SREM', KEYS[1], ARGV[2])
	redis.call('SADD', KEYS[2], ARGV[2])
	redis.call('SET', KEYS[3], ARGV[1])
	return 1
`)

// Redis implements Store and WorkerStore on Redis sets and TTL keys
type Redis struct {
	client redis.Cmdable
	logger *slog.Logger
}

var (
	_ Store       = (*Redis)(nil)
	_ WorkerStore = (*Redis)(nil)
)

// NewRedis creates a Redis-backed coordination store. The caller owns the
// client lifecycle.
func NewRedis(client redis.Cmdable, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		logger: logger,
	}
}

// AddUnassigned is a no-op when a worker has already claimed key
func (r *Redis) AddUnassigned(ctx context.Context, key string) error {
	err := addUnassignedScript.Run(ctx, r.client, []string{unassignedKey, ownerKey(key)}, key).Err()
	if err != nil {
		return fmt.Errorf("failed to add %s to unassigned: %w", key, err)
	}
	return nil
}

func (r *Redis) RecordAssignment(ctx context.Context, workerID, key string) (string, bool, error) {
	owner, err := recordAssignmentScript.Run(ctx, r.client,
		[]string{unassignedKey, workerKey(workerID), ownerKey(key)},
		workerID, key,
	).Text()
	if err != nil {
		return "", false, fmt.Errorf("failed to record assignment of %s: %w", key, err)
	}

	if owner != "" {
		return owner, false, nil
	}
	return workerID, true, nil
}

func (r *Redis) Unassign(ctx context.Context, workerID, key string) (bool, error) {
	moved, err := unassignScript.Run(ctx, r.client,
		[]string{workerKey(workerID), unassignedKey, ownerKey(key)},
		workerID, key,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to unassign %s from %s: %w", key, workerID, err)
	}
	return moved == 1, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	err := forgetScript.Run(ctx, r.client,
		[]string{unassignedKey, ownerKey(key), statusKey(key)},
		key, workerKeyPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to forget %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Assignments(ctx context.Context, workerID string) ([]string, error) {
	keys, err := r.client.SMembers(ctx, workerKey(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments of %s: %w", workerID, err)
	}
	return keys, nil
}

// Owner returns the worker holding key, or "" when nobody does
func (r *Redis) Owner(ctx context.Context, key string) (string, error) {
	owner, err := r.client.Get(ctx, ownerKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner of %s: %w", key, err)
	}
	return owner, nil
}

func (r *Redis) Unassigned(ctx context.Context) ([]string, error) {
	keys, err := r.client.SMembers(ctx, unassignedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned keys: %w", err)
	}
	return keys, nil
}

// Status returns the last reported status of key, or domain.ErrNotFound
// once the record has expired
func (r *Redis) Status(ctx context.Context, key string) (*domain.JobStatus, error) {
	data, err := r.client.Get(ctx, statusKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", key, err)
	}

	var status domain.JobStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status of %s: %w", key, err)
	}
	return &status, nil
}

func (r *Redis) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, heartbeatKey(workerID), now, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write heartbeat of %s: %w", workerID, err)
	}
	return nil
}

func (r *Redis) MasterHeartbeat(ctx context.Context, ttl time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, masterHeartbeatKey, now, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write master heartbeat: %w", err)
	}
	return nil
}

func (r *Redis) IsWorkerAlive(ctx context.Context, workerID string) (bool, error) {
	return r.exists(ctx, heartbeatKey(workerID))
}

func (r *Redis) IsMasterAlive(ctx context.Context) (bool, error) {
	return r.exists(ctx, masterHeartbeatKey)
}

func (r *Redis) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n == 1, nil
}

// ReportStatus writes the TTL-backed status record of a job and re-asserts
// the reporting worker's assignment. Nothing is written unless the verdict is
// StatusAccepted.
func (r *Redis) ReportStatus(ctx context.Context, status domain.JobStatus, ttl time.Duration) (StatusVerdict, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return 0, fmt.Errorf("failed to encode status of %s: %w", status.Key, err)
	}

	n, err := reportStatusScript.Run(ctx, r.client,
		[]string{
			unassignedKey,
			workerKey(status.WorkerID),
			ownerKey(status.Key),
			statusKey(status.Key),
			removedKey,
			deadWorkersKey,
		},
		status.WorkerID, status.Key, string(data), ttl.Milliseconds(),
		removedMember(status.Key, status.Generation),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to report status of %s: %w", status.Key, err)
	}

	verdict := StatusVerdict(n)
	if verdict < StatusAccepted || verdict > StatusWorkerDead {
		return 0, fmt.Errorf("unexpected status verdict %d for %s", n, status.Key)
	}
	if verdict != StatusAccepted {
		r.logger.Debug("Status not accepted",
			slog.String("key", status.Key),
			slog.String("worker_id", status.WorkerID),
			slog.String("verdict", verdict.String()),
		)
	}
	return verdict, nil
}

func (r *Redis) MarkRemoved(ctx context.Context, key, generation string) error {
	if err := r.client.SAdd(ctx, removedKey, removedMember(key, generation)).Err(); err != nil {
		return fmt.Errorf("failed to mark %s removed: %w", key, err)
	}
	return nil
}

func (r *Redis) IsRemoved(ctx context.Context, key, generation string) (bool, error) {
	removed, err := r.client.SIsMember(ctx, removedKey, removedMember(key, generation)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check removed marker of %s: %w", key, err)
	}
	return removed, nil
}

// ClearRemoved deletes the removed marker of one generation and reports
// whether this call was the one that cleared it
func (r *Redis) ClearRemoved(ctx context.Context, key, generation string) (bool, error) {
	n, err := r.client.SRem(ctx, removedKey, removedMember(key, generation)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to clear removed marker of %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) MarkDead(ctx context.Context, workerID string) error {
	if err := r.client.SAdd(ctx, deadWorkersKey, workerID).Err(); err != nil {
		return fmt.Errorf("failed to mark %s dead: %w", workerID, err)
	}
	return nil
}

func (r *Redis) IsDead(ctx context.Context, workerID string) (bool, error) {
	dead, err := r.client.SIsMember(ctx, deadWorkersKey, workerID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dead marker of %s: %w", workerID, err)
	}
	return dead, nil
}
