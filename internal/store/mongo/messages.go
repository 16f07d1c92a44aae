package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

// CreateMessage inserts a new message record.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	_, err := s.messages.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessageByID returns a message owned by userID.
func (s *Store) MessageByID(ctx context.Context, userID, id string) (*models.Message, error) {
	return s.findMessage(ctx, bson.M{"_id": id, "user_id": userID})
}

// MessageByExternalID returns the message linked to a Gmail message id.
func (s *Store) MessageByExternalID(ctx context.Context, userID, externalID string) (*models.Message, error) {
	if externalID == "" {
		return nil, store.ErrNotFound
	}
	return s.findMessage(ctx, bson.M{"user_id": userID, "external_id": externalID})
}

// MessageByThreadID returns the earliest message linked to a Gmail thread.
func (s *Store) MessageByThreadID(ctx context.Context, userID, threadID string) (*models.Message, error) {
	if threadID == "" {
		return nil, store.ErrNotFound
	}
	return s.findMessage(ctx, bson.M{"user_id": userID, "thread_id": threadID},
		options.FindOne().SetSort(bson.D{{Key: "sent_at", Value: 1}}))
}

func (s *Store) findMessage(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (*models.Message, error) {
	var msg models.Message
	err := s.messages.FindOne(ctx, filter, opts...).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

// MarkRead sets the read flag and timestamp.
func (s *Store) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}},
	)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := s.messages.CountDocuments(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if n == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

// UpdateDelivery records the outcome of a delivery attempt.
func (s *Store) UpdateDelivery(ctx context.Context, id string, update store.DeliveryUpdate) error {
	res, err := s.messages.UpdateOne(ctx, bson.M{"_id": id}, deliveryUpdate(update))
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func deliveryUpdate(update store.DeliveryUpdate) bson.M {
	set := bson.M{"status": update.Status}
	if update.ExternalID != "" {
		set["external_id"] = update.ExternalID
	}
	if update.ThreadID != "" {
		set["thread_id"] = update.ThreadID
	}
	return bson.M{"$set": set}
}

// ListMessages returns the newest messages matching filter.
func (s *Store) ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(store.ClampLimit(filter.Limit)))
	return s.findMessages(ctx, listFilter(filter), opts)
}

func listFilter(filter models.MessageFilter) bson.M {
	f := bson.M{"user_id": filter.UserID}
	if filter.Type != "" {
		f["message_type"] = filter.Type
	}
	if filter.Unread {
		f["is_read"] = false
	}
	return f
}

// Conversation returns all messages of a conversation, oldest first.
func (s *Store) Conversation(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.findMessages(ctx, bson.M{"user_id": userID, "conversation_id": conversationID}, opts)
}

func (s *Store) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*models.Message, error) {
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var messages []*models.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}
