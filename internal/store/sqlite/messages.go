package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

const messageColumns = `id, user_id, sender, sender_email, recipient, recipient_email, subject,
    content, preview, attachments, is_automated, is_read, avatar, conversation_id,
    parent_message_id, message_type, status, external_id, thread_id, rfc_message_id,
    sent_at, read_at, created_at`

// CreateMessage inserts a new message record.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	var readAt sql.NullInt64
	if msg.ReadAt != nil {
		readAt = sql.NullInt64{Int64: msg.ReadAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		msg.ID,
		msg.UserID,
		msg.Sender,
		msg.SenderEmail,
		msg.Recipient,
		msg.RecipientEmail,
		msg.Subject,
		msg.Content,
		msg.Preview,
		string(encoded),
		msg.IsAutomated,
		msg.IsRead,
		msg.Avatar,
		msg.ConversationID,
		msg.ParentMessageID,
		string(msg.MessageType),
		string(msg.Status),
		msg.ExternalID,
		msg.ThreadID,
		msg.RFCMessageID,
		msg.SentAt.UnixNano(),
		readAt,
		msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessageByID returns a message owned by userID.
func (s *Store) MessageByID(ctx context.Context, userID, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ? AND user_id = ?;`, id, userID)
	return scanMessage(row)
}

// MessageByExternalID returns the message linked to a Gmail message id.
func (s *Store) MessageByExternalID(ctx context.Context, userID, externalID string) (*models.Message, error) {
	if externalID == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE user_id = ? AND external_id = ? LIMIT 1;`, userID, externalID)
	return scanMessage(row)
}

// MessageByThreadID returns the earliest message linked to a Gmail thread.
func (s *Store) MessageByThreadID(ctx context.Context, userID, threadID string) (*models.Message, error) {
	if threadID == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE user_id = ? AND thread_id = ? ORDER BY sent_at ASC LIMIT 1;`, userID, threadID)
	return scanMessage(row)
}

// MarkRead sets the read flag and timestamp.
func (s *Store) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var isRead bool
	err = tx.QueryRowContext(ctx, `SELECT is_read FROM messages WHERE id = ? AND user_id = ?;`, id, userID).Scan(&isRead)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load read flag: %w", err)
	}
	if isRead {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_read = 1, read_at = ? WHERE id = ?;`, at.UnixNano(), id); err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mark read: %w", err)
	}
	return true, nil
}

// UpdateDelivery records the outcome of a delivery attempt.
func (s *Store) UpdateDelivery(ctx context.Context, id string, update store.DeliveryUpdate) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET
            status = ?,
            external_id = CASE WHEN ? != '' THEN ? ELSE external_id END,
            thread_id = CASE WHEN ? != '' THEN ? ELSE thread_id END
        WHERE id = ?;`,
		string(update.Status),
		update.ExternalID, update.ExternalID,
		update.ThreadID, update.ThreadID,
		id,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return expectAffected(res)
}

// ListMessages returns the newest messages matching filter.
func (s *Store) ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.Message, error) {
	where := []string{"user_id = ?"}
	args := []any{filter.UserID}
	if filter.Type != "" {
		where = append(where, "message_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Unread {
		where = append(where, "is_read = 0")
	}
	args = append(args, store.ClampLimit(filter.Limit))

	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY sent_at DESC, id DESC LIMIT ?;`
	return s.queryMessages(ctx, query, args...)
}

// Conversation returns all messages of a conversation, oldest first.
func (s *Store) Conversation(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE user_id = ? AND conversation_id = ?
        ORDER BY sent_at ASC, id ASC;`, userID, conversationID)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg         models.Message
		attachments string
		messageType string
		status      string
		sentAt      int64
		readAt      sql.NullInt64
		createdAt   int64
	)
	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.Sender,
		&msg.SenderEmail,
		&msg.Recipient,
		&msg.RecipientEmail,
		&msg.Subject,
		&msg.Content,
		&msg.Preview,
		&attachments,
		&msg.IsAutomated,
		&msg.IsRead,
		&msg.Avatar,
		&msg.ConversationID,
		&msg.ParentMessageID,
		&messageType,
		&status,
		&msg.ExternalID,
		&msg.ThreadID,
		&msg.RFCMessageID,
		&sentAt,
		&readAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	msg.MessageType = models.MessageType(messageType)
	msg.Status = models.MessageStatus(status)
	msg.SentAt = time.Unix(0, sentAt)
	msg.CreatedAt = time.Unix(0, createdAt)
	if readAt.Valid {
		t := time.Unix(0, readAt.Int64)
		msg.ReadAt = &t
	}
	return &msg, nil
}
