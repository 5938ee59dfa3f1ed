package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCron is returned when the cron expression or timezone does not parse
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrStorage is returned when the durable store fails
	ErrStorage = errors.New("storage error")

	// ErrQueue is returned when the scheduling queue fails
	ErrQueue = errors.New("queue error")

	// ErrAsset is returned when the asset store fails
	ErrAsset = errors.New("asset error")

	// ErrNotFound is returned when a SoundCron does not exist
	ErrNotFound = errors.New("soundcron not found")

	// ErrDuplicateName is returned when (server_id, name) is already taken
	ErrDuplicateName = errors.New("soundcron name already exists for server")

	// ErrNotQueued is returned by a queue when the message to remove has
	// already been delivered
	ErrNotQueued = errors.New("message no longer queued")
)

// Reason names the failing subsystem of an orchestration operation
type Reason string

const (
	ReasonInvalidCron   Reason = "InvalidCron"
	ReasonStorage       Reason = "StorageError"
	ReasonQueue         Reason = "QueueError"
	ReasonAsset         Reason = "AssetError"
	ReasonNotFound      Reason = "NotFound"
	ReasonDuplicateName Reason = "DuplicateName"
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidCron:   ErrInvalidCron,
	ReasonStorage:       ErrStorage,
	ReasonQueue:         ErrQueue,
	ReasonAsset:         ErrAsset,
	ReasonNotFound:      ErrNotFound,
	ReasonDuplicateName: ErrDuplicateName,
}

// OperationError is the failure result of addCron/removeCron
type OperationError struct {
	Reason Reason
	Err    error
}

// NewOperationError creates an OperationError for the given reason
func NewOperationError(reason Reason, err error) *OperationError {
	return &OperationError{Reason: reason, Err: err}
}

func (e *OperationError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel belonging to the reason, so errors.Is(err, ErrQueue)
// holds even when the wrapped cause is a raw driver error
func (e *OperationError) Is(target error) bool {
	return reasonSentinels[e.Reason] == target
}

// ReasonOf extracts the failure reason from err, or "" if err is not an
// OperationError
func ReasonOf(err error) Reason {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Reason
	}
	return ""
}
