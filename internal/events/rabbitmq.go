package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes events as persistent JSON messages on a durable queue.
type RabbitMQ struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch channel
}

// NewRabbitMQ dials url and declares queueName.
func NewRabbitMQ(url, queueName string) (*RabbitMQ, error) {
	const op = "events.NewRabbitMQ"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RabbitMQ{conn: conn, ch: ch, queue: q.Name}, nil
}

// Publish implements Publisher. amqp channels are not safe for concurrent
// publishing, so calls are serialized.
func (r *RabbitMQ) Publish(ctx context.Context, event MailEvent) error {
	const op = "events.Publish"

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Type:         event.Type,
		MessageId:    event.MessageID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.ch.Close()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
