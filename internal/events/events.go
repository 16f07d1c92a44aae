// Package events publishes mail lifecycle events for downstream consumers
// such as campaign analytics.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeDelivered = "mail.delivered"
	TypeFailed    = "mail.failed"
)

// MailEvent is the JSON body published after each delivery.
type MailEvent struct {
	Type           string    `json:"type"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Operation      string    `json:"operation"`
	Transport      string    `json:"transport,omitempty"`
	Attempts       int       `json:"attempts"`
	TokenRefreshed bool      `json:"tokenRefreshed"`
	ErrorKind      string    `json:"errorKind,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Publisher sends mail events.
type Publisher interface {
	Publish(ctx context.Context, event MailEvent) error
	Close() error
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, MailEvent) error { return nil }
func (Noop) Close() error                             { return nil }
