// Package queue carries establishment messages from the orchestrator to
// exactly one worker, and establishment confirmations back.
package queue

import (
	"context"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// Producer is the orchestrator side of the scheduling queue
type Producer interface {
	// Enqueue publishes an establishment message for competing consumers
	Enqueue(ctx context.Context, msg domain.EstablishMessage) error

	// Remove drops a not yet delivered establishment message for key. It
	// returns domain.ErrNotQueued when no such message is waiting.
	Remove(ctx context.Context, key string) error

	// Completions streams establishment confirmations until ctx is done
	Completions(ctx context.Context) (<-chan domain.Established, error)
}

// Consumer is the worker side of the scheduling queue
type Consumer interface {
	// Deliveries streams establishment messages until ctx is done. Each
	// delivery must be acked or nacked.
	Deliveries(ctx context.Context) (<-chan Delivery, error)

	// ReportEstablished confirms that a worker has scheduled a key
	ReportEstablished(ctx context.Context, ev domain.Established) error
}

// Delivery is one establishment message handed to a worker
type Delivery struct {
	Message domain.EstablishMessage

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a Delivery around broker-specific settlement callbacks
func NewDelivery(msg domain.EstablishMessage, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Message: msg, ack: ack, nack: nack}
}

// Ack settles the delivery; the message will not be redelivered
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the delivery, optionally returning it to the queue
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}
