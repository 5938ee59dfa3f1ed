package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/soundcron/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// Broker is the slice of shared/rabbitmq.Client the adapter needs
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
	Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error)
	Take(queueName string, match func(body []byte) bool) (bool, error)
}

// Routes names the queues and routing keys of the two message flows
type Routes struct {
	EstablishQueue        string
	EstablishRoutingKey   string
	EstablishedQueue      string
	EstablishedRoutingKey string
}

// RabbitMQ implements Producer and Consumer on a RabbitMQ work queue
type RabbitMQ struct {
	broker      Broker
	routes      Routes
	consumerTag string
	logger      *slog.Logger
}

var (
	_ Producer = (*RabbitMQ)(nil)
	_ Consumer = (*RabbitMQ)(nil)
)

// NewRabbitMQ creates a queue adapter. consumerTag identifies the consuming
// process to the broker.
func NewRabbitMQ(broker Broker, routes Routes, consumerTag string, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		broker:      broker,
		routes:      routes,
		consumerTag: consumerTag,
		logger:      logger,
	}
}

func (q *RabbitMQ) Enqueue(ctx context.Context, msg domain.EstablishMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode establish message %s: %w", msg.Key, err)
	}

	if err := q.broker.PublishWithRetry(ctx, q.routes.EstablishRoutingKey, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w: %w", msg.Key, domain.ErrQueue, err)
	}

	q.logger.Info("Establish message enqueued",
		slog.String("key", msg.Key),
		slog.String("queue", q.routes.EstablishQueue),
	)
	return nil
}

func (q *RabbitMQ) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	taken, err := q.broker.Take(q.routes.EstablishQueue, func(body []byte) bool {
		var msg domain.EstablishMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return false
		}
		return msg.Key == key
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s from queue: %w: %w", key, domain.ErrQueue, err)
	}
	if !taken {
		return fmt.Errorf("failed to remove %s from queue: %w", key, domain.ErrNotQueued)
	}

	q.logger.Info("Establish message removed from queue",
		slog.String("key", key),
	)
	return nil
}

func (q *RabbitMQ) Completions(ctx context.Context) (<-chan domain.Established, error) {
	deliveries, err := q.broker.Consume(q.routes.EstablishedQueue, q.consumerTag+"-completions")
	if err != nil {
		return nil, fmt.Errorf("failed to consume completions: %w", err)
	}

	out := make(chan domain.Established)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					q.logger.Warn("RabbitMQ completion channel closed")
					return
				}

				var ev domain.Established
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.Key == "" || ev.WorkerID == "" {
					q.logger.Error("Dropping malformed completion",
						slog.String("body", string(d.Body)),
						slog.Any("error", err),
					)
					q.settle(d.Nack(false, false), "nack")
					continue
				}

				select {
				case out <- ev:
					q.settle(d.Ack(false), "ack")
				case <-ctx.Done():
					q.settle(d.Nack(false, true), "nack")
					return
				}
			}
		}
	}()

	return out, nil
}

func (q *RabbitMQ) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	deliveries, err := q.broker.Consume(q.routes.EstablishQueue, q.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to consume establish messages: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					q.logger.Warn("RabbitMQ delivery channel closed")
					return
				}

				var msg domain.EstablishMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil || msg.Key == "" {
					// malformed messages are dropped, never requeued
					q.logger.Error("Failed to parse establish message",
						slog.String("body", string(d.Body)),
						slog.Any("error", err),
					)
					q.settle(d.Nack(false, false), "nack")
					continue
				}

				delivery := NewDelivery(msg,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)

				select {
				case out <- delivery:
				case <-ctx.Done():
					q.settle(d.Nack(false, true), "nack")
					return
				}
			}
		}
	}()

	return out, nil
}

func (q *RabbitMQ) ReportEstablished(ctx context.Context, ev domain.Established) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode completion %s: %w", ev.Key, err)
	}

	if err := q.broker.PublishWithRetry(ctx, q.routes.EstablishedRoutingKey, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to report establishment of %s: %w: %w", ev.Key, domain.ErrQueue, err)
	}
	return nil
}

func (q *RabbitMQ) settle(err error, action string) {
	if err != nil {
		q.logger.Error("Failed to settle RabbitMQ delivery",
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}
