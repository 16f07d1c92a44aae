package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/attachments"
	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

// MarkRead flips the read flag of a message owned by the user. It reports
// whether the message was unread before.
func (s *Service) MarkRead(ctx context.Context, userID, messageID string) (bool, error) {
	const op = "dispatch.MarkRead"

	if messageID == "" {
		return false, newError(KindInvalid, op, errors.New("message id is required"))
	}
	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return false, err
	}
	changed, err := s.messages.MarkRead(ctx, user.GoogleID, messageID, s.now())
	if err != nil {
		return false, storageError(op, err)
	}
	return changed, nil
}

// List returns the user's newest messages matching filter. filter.UserID
// is ignored.
func (s *Service) List(ctx context.Context, userID string, filter models.MessageFilter) ([]*models.Message, error) {
	const op = "dispatch.List"

	switch filter.Type {
	case "", models.TypeSent, models.TypeReceived, models.TypeDraft:
	default:
		return nil, newError(KindInvalid, op, fmt.Errorf("unknown message type %q", filter.Type))
	}

	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	filter.UserID = user.GoogleID
	filter.Limit = store.ClampLimit(filter.Limit)

	msgs, err := s.messages.ListMessages(ctx, filter)
	if err != nil {
		return nil, storageError(op, err)
	}
	return msgs, nil
}

// Conversation returns every message of a conversation, oldest first.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	const op = "dispatch.Conversation"

	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.Conversation(ctx, user.GoogleID, conversationID)
	if err != nil {
		return nil, storageError(op, err)
	}
	if len(msgs) == 0 {
		return nil, newError(KindNotFound, op, store.ErrNotFound)
	}
	return msgs, nil
}

// SyncResult summarizes an inbox sync.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Sync imports recent inbox messages as received records. Messages already
// imported are skipped. A received message joins the conversation of the
// Gmail thread it belongs to when that thread is known.
func (s *Service) Sync(ctx context.Context, userID string) (SyncResult, error) {
	const op = "dispatch.Sync"

	if s.inbox == nil {
		return SyncResult{}, newError(KindUnsupported, op,
			fmt.Errorf("inbox sync is not available with the %s transport", s.transport.Name()))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := instrumentation.StartSpan(ctx, "dispatch.sync")
	defer span.End()

	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return SyncResult{}, err
	}
	tok, err := s.accessToken(ctx, op, user, google.ReadScopes)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return SyncResult{}, err
	}

	var inbound []*gmail.InboundMessage
	_, _, err = s.callWithRefresh(ctx, op, user, tok, google.ReadScopes, func(ctx context.Context, tok *oauth2.Token, _ int) error {
		var ferr error
		inbound, ferr = s.inbox.FetchInbox(ctx, tok, s.syncLimit)
		return ferr
	})
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return SyncResult{}, err
	}

	result := SyncResult{Fetched: len(inbound)}
	for _, in := range inbound {
		imported, err := s.importMessage(ctx, user, in)
		if err != nil {
			instrumentation.SetSpanError(span, err)
			return result, storageError(op, err)
		}
		if imported {
			result.Imported++
		} else {
			result.Skipped++
		}
	}

	s.logger.InfoContext(ctx, "inbox synced",
		logging.Operation(op),
		logging.UserID(user.ID),
		logging.Status(instrumentation.StatusSuccess),
	)
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

func (s *Service) importMessage(ctx context.Context, user *models.User, in *gmail.InboundMessage) (bool, error) {
	if in.ExternalID == "" {
		return false, nil
	}
	if _, err := s.messages.MessageByExternalID(ctx, user.GoogleID, in.ExternalID); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	conversationID := s.newID()
	parentID := ""
	root, err := s.messages.MessageByThreadID(ctx, user.GoogleID, in.ThreadID)
	switch {
	case err == nil:
		conversationID = root.ConversationID
		if in.InReplyTo != "" && in.InReplyTo == root.RFCMessageID {
			parentID = root.ID
		}
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	sentAt := in.Date
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	senderName := in.From.Name
	if senderName == "" {
		senderName = in.From.Email
	}
	body := in.Body()

	msg := &models.Message{
		ID:              s.newID(),
		UserID:          user.GoogleID,
		Sender:          senderName,
		SenderEmail:     in.From.Email,
		Recipient:       user.Name,
		RecipientEmail:  user.Email,
		Subject:         in.Subject,
		Content:         body,
		Preview:         BuildPreview(previewText(in)),
		Attachments:     inboundAttachments(in.Attachments),
		IsRead:          !in.Unread,
		ConversationID:  conversationID,
		ParentMessageID: parentID,
		MessageType:     models.TypeReceived,
		Status:          models.StatusDelivered,
		ExternalID:      in.ExternalID,
		ThreadID:        in.ThreadID,
		RFCMessageID:    in.RFCMessageID,
		SentAt:          sentAt,
		CreatedAt:       s.now(),
	}
	if msg.IsRead {
		at := sentAt
		msg.ReadAt = &at
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// previewText prefers the plain text part so previews carry no markup.
func previewText(in *gmail.InboundMessage) string {
	if t := strings.TrimSpace(in.TextBody); t != "" {
		return t
	}
	return strings.TrimSpace(in.HTMLBody)
}

func inboundAttachments(in []gmail.InboundAttachment) []models.Attachment {
	out := make([]models.Attachment, 0, len(in))
	for i, a := range in {
		out = append(out, models.Attachment{
			ID:       fmt.Sprintf("inbound-%d", i),
			Name:     a.Name,
			Size:     humanize.Bytes(uint64(a.Size)),
			Type:     attachments.Classify(a.Name),
			MimeType: a.MimeType,
		})
	}
	return out
}
