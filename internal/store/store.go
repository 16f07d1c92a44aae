// Package store defines the persistence contracts for users and messages.
//
// Two implementations exist: store/mongo for deployments and store/sqlite
// for local development and tests. Both keep cached OAuth tokens sealed with
// a secrets.Cipher when one is configured.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ingeniumai/outreach/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert collides with an existing record.
	ErrDuplicate = errors.New("store: duplicate record")
)

// GoogleProfile is the identity returned by Google at login.
type GoogleProfile struct {
	GoogleID string
	Email    string
	Name     string
	Picture  string
}

// UserStore persists user accounts and their cached OAuth tokens.
type UserStore interface {
	// UpsertGoogleUser creates the user on first login or refreshes its
	// profile and last-login time. Empty token fields never overwrite
	// stored ones.
	UpsertGoogleUser(ctx context.Context, profile GoogleProfile, tokens models.Tokens, now time.Time) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	// UpdateTokens writes back a refreshed token pair. An empty refresh
	// token keeps the stored one.
	UpdateTokens(ctx context.Context, userID string, tokens models.Tokens) error
	UpdateProfile(ctx context.Context, userID string, details map[string]any, completed bool) (*models.User, error)
	UpdateProfileType(ctx context.Context, userID string, profileType models.ProfileType) (*models.User, error)
}

// MessageStore persists mail records.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	MessageByID(ctx context.Context, userID, id string) (*models.Message, error)
	MessageByExternalID(ctx context.Context, userID, externalID string) (*models.Message, error)
	// MessageByThreadID returns the earliest message of a Gmail thread.
	MessageByThreadID(ctx context.Context, userID, threadID string) (*models.Message, error)
	// MarkRead flips the read flag. It reports whether the message was
	// unread before the call.
	MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
	UpdateDelivery(ctx context.Context, id string, update DeliveryUpdate) error
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.Message, error)
	Conversation(ctx context.Context, userID, conversationID string) ([]*models.Message, error)
}

// DeliveryUpdate is the outcome of a delivery attempt recorded on a message.
type DeliveryUpdate struct {
	Status     models.MessageStatus
	ExternalID string
	ThreadID   string
}

// Store is the union of the user and message stores with lifecycle hooks.
type Store interface {
	UserStore
	MessageStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefaultListLimit bounds ListMessages when the filter sets no limit.
const DefaultListLimit = 50

// MaxListLimit is the largest page ListMessages returns.
const MaxListLimit = 500

// ClampLimit returns a usable page size for a requested limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
