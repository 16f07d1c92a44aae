package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/events"
	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

// SendRequest starts a new conversation.
type SendRequest struct {
	UserID      string `validate:"required"`
	To          string `validate:"required,email"`
	ToName      string
	Subject     string `validate:"required"`
	Body        string `validate:"required"`
	Attachments []models.Attachment
	// Channel is instrumentation.ChannelHTTP (default) or ChannelMCP.
	Channel string
}

// ReplyRequest answers an existing message.
type ReplyRequest struct {
	UserID      string `validate:"required"`
	MessageID   string `validate:"required"`
	Body        string `validate:"required"`
	Attachments []models.Attachment
	Channel     string
}

// Send persists a new message and delivers it. The record is stored before
// delivery and is kept when delivery fails; in that case it is returned
// together with the error.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	const op = "dispatch.Send"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := instrumentation.StartSpan(ctx, "dispatch.send")
	defer span.End()
	rec := instrumentation.NewDispatchRecord(instrumentation.OperationSend, channelOrDefault(req.Channel))

	msg, err := s.send(ctx, op, rec, req)
	s.finish(ctx, span, rec, err)
	return msg, err
}

func (s *Service) send(ctx context.Context, op string, rec *instrumentation.DispatchRecord, req SendRequest) (*models.Message, error) {
	req.To = strings.TrimSpace(req.To)
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(KindInvalid, op, err)
	}
	rec.WithMessage("", "", req.To)

	user, err := s.loadUser(ctx, op, req.UserID)
	if err != nil {
		return nil, err
	}
	rec.WithUser(user.ID, user.Email)

	tok, err := s.accessToken(ctx, op, user, google.SendScopes)
	if err != nil {
		return nil, err
	}

	files, err := s.resolveAttachments(op, req.Attachments)
	if err != nil {
		return nil, err
	}

	recipientName := req.ToName
	if recipientName == "" {
		recipientName = req.To
	}
	now := s.now()
	msg := &models.Message{
		ID:             s.newID(),
		UserID:         user.GoogleID,
		Sender:         user.Name,
		SenderEmail:    user.Email,
		Recipient:      recipientName,
		RecipientEmail: req.To,
		Subject:        req.Subject,
		Content:        req.Body,
		Preview:        BuildPreview(req.Body),
		Attachments:    attachmentsOrEmpty(req.Attachments),
		ConversationID: s.newID(),
		MessageType:    models.TypeSent,
		Status:         models.StatusSent,
		RFCMessageID:   gmail.NewMessageID(user.Email),
		SentAt:         now,
		CreatedAt:      now,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, newError(KindStorage, op, err)
	}
	rec.WithMessage(msg.ID, msg.ConversationID, msg.RecipientEmail)

	env := &gmail.Envelope{
		From:        gmail.Address{Name: user.Name, Email: user.Email},
		To:          gmail.Address{Name: req.ToName, Email: req.To},
		Subject:     msg.Subject,
		HTMLBody:    msg.Content,
		Attachments: files,
		MessageID:   msg.RFCMessageID,
	}
	return s.deliver(ctx, op, rec, user, tok, msg, env)
}

// Reply marks the parent read, persists a reply in the parent's
// conversation and delivers it. The parent stays read whatever the
// delivery outcome.
func (s *Service) Reply(ctx context.Context, req ReplyRequest) (*models.Message, error) {
	const op = "dispatch.Reply"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := instrumentation.StartSpan(ctx, "dispatch.reply")
	defer span.End()
	rec := instrumentation.NewDispatchRecord(instrumentation.OperationReply, channelOrDefault(req.Channel))

	msg, err := s.reply(ctx, op, rec, req)
	s.finish(ctx, span, rec, err)
	return msg, err
}

func (s *Service) reply(ctx context.Context, op string, rec *instrumentation.DispatchRecord, req ReplyRequest) (*models.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(KindInvalid, op, err)
	}

	user, err := s.loadUser(ctx, op, req.UserID)
	if err != nil {
		return nil, err
	}
	rec.WithUser(user.ID, user.Email)

	parent, err := s.messages.MessageByID(ctx, user.GoogleID, req.MessageID)
	if err != nil {
		return nil, storageError(op, err)
	}
	toName, toEmail := parent.Counterpart()
	if toEmail == "" {
		return nil, newError(KindInvalid, op, errors.New("parent message has no counterpart address"))
	}
	rec.WithMessage("", parent.ConversationID, toEmail)

	tok, err := s.accessToken(ctx, op, user, google.SendScopes)
	if err != nil {
		return nil, err
	}

	files, err := s.resolveAttachments(op, req.Attachments)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &models.Message{
		ID:              s.newID(),
		UserID:          user.GoogleID,
		Sender:          user.Name,
		SenderEmail:     user.Email,
		Recipient:       toName,
		RecipientEmail:  toEmail,
		Subject:         ReplySubject(parent.Subject),
		Content:         req.Body,
		Preview:         BuildPreview(req.Body),
		Attachments:     attachmentsOrEmpty(req.Attachments),
		ConversationID:  parent.ConversationID,
		ParentMessageID: parent.ID,
		MessageType:     models.TypeSent,
		Status:          models.StatusSent,
		ThreadID:        parent.ThreadID,
		RFCMessageID:    gmail.NewMessageID(user.Email),
		SentAt:          now,
		CreatedAt:       now,
	}
	// A failed mark leaves nothing behind: the reply is not stored yet.
	if _, err := s.messages.MarkRead(ctx, user.GoogleID, parent.ID, now); err != nil {
		return nil, storageError(op, fmt.Errorf("mark parent read: %w", err))
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, newError(KindStorage, op, err)
	}
	rec.WithMessage(msg.ID, msg.ConversationID, msg.RecipientEmail)

	env := &gmail.Envelope{
		From:        gmail.Address{Name: user.Name, Email: user.Email},
		To:          gmail.Address{Name: toName, Email: toEmail},
		Subject:     msg.Subject,
		HTMLBody:    msg.Content,
		Attachments: files,
		MessageID:   msg.RFCMessageID,
		InReplyTo:   parent.RFCMessageID,
		References:  parent.RFCMessageID,
		ThreadID:    parent.ThreadID,
	}
	return s.deliver(ctx, op, rec, user, tok, msg, env)
}

// deliver runs the delivery loop for a persisted message and records the
// outcome on it.
func (s *Service) deliver(
	ctx context.Context,
	op string,
	rec *instrumentation.DispatchRecord,
	user *models.User,
	tok *oauth2.Token,
	msg *models.Message,
	env *gmail.Envelope,
) (*models.Message, error) {
	var res gmail.Result
	attempts, refreshed, err := s.callWithRefresh(ctx, op, user, tok, google.SendScopes,
		func(ctx context.Context, tok *oauth2.Token, n int) error {
			return s.attempt(ctx, tok, env, n, &res)
		})
	rec.WithDelivery(s.transport.Name(), attempts, refreshed)

	// The outcome is recorded even when the attempt ran out the request budget.
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()
	s.recordOutcome(octx, msg, res, err)
	s.publish(octx, rec, msg, err)

	if err != nil {
		return msg, err
	}
	return msg, nil
}

// recordOutcome writes the delivery result back to the message. Failures
// here are logged and do not change the result of the request.
func (s *Service) recordOutcome(ctx context.Context, msg *models.Message, res gmail.Result, deliveryErr error) {
	update := store.DeliveryUpdate{
		Status:     msg.Status,
		ExternalID: res.ExternalID,
		ThreadID:   res.ThreadID,
	}
	if s.reconcileStatus {
		update.Status = models.StatusDelivered
		if deliveryErr != nil {
			update.Status = models.StatusFailed
		}
	}
	if update == (store.DeliveryUpdate{Status: msg.Status}) {
		return
	}

	if err := s.messages.UpdateDelivery(ctx, msg.ID, update); err != nil {
		s.logger.WarnContext(ctx, "failed to record delivery outcome",
			logging.MessageID(msg.ID),
			logging.Status(string(update.Status)),
			logging.Err(err),
		)
		return
	}
	msg.Status = update.Status
	if res.ExternalID != "" {
		msg.ExternalID = res.ExternalID
	}
	if res.ThreadID != "" {
		msg.ThreadID = res.ThreadID
	}
}

func (s *Service) publish(ctx context.Context, rec *instrumentation.DispatchRecord, msg *models.Message, deliveryErr error) {
	event := events.MailEvent{
		Type:           events.TypeDelivered,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Operation:      rec.Operation,
		Transport:      rec.Transport,
		Attempts:       rec.Attempts,
		TokenRefreshed: rec.Refreshed,
		OccurredAt:     s.now(),
	}
	if deliveryErr != nil {
		event.Type = events.TypeFailed
		event.ErrorKind = string(KindOf(deliveryErr))
	}

	status := instrumentation.StatusSuccess
	if err := s.events.Publish(ctx, event); err != nil {
		status = instrumentation.StatusError
		s.logger.WarnContext(ctx, "failed to publish mail event",
			logging.MessageID(msg.ID),
			logging.Err(err),
		)
	}
	s.metrics.RecordEventPublished(ctx, event.Type, status)
}

// finish closes the span, the audit entry and the dispatch metric of a
// send or reply.
func (s *Service) finish(ctx context.Context, span trace.Span, rec *instrumentation.DispatchRecord, err error) {
	kind := string(KindOf(err))
	rec.WithSpanContext(ctx).Complete(kind, err)

	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().
		WithUser(logging.AnonymizeEmail(rec.SenderEmail)).
		WithMessage(rec.MessageID, rec.ConversationID).
		WithRecipient(rec.RecipientEmail).
		WithTransport(rec.Transport).
		Build()...)
	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.audit.LogDispatch(ctx, rec)
	s.metrics.RecordDispatch(ctx, rec.Operation, rec.Channel, kind, rec.RecipientEmail)
}

func (s *Service) resolveAttachments(op string, refs []models.Attachment) ([]gmail.FileAttachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if s.attachments == nil {
		return nil, newError(KindInvalid, op, errors.New("attachments are not supported"))
	}
	files := make([]gmail.FileAttachment, 0, len(refs))
	for _, a := range refs {
		ref := a.URL
		if ref == "" {
			ref = a.ID
		}
		path, err := s.attachments.Resolve(ref)
		if err != nil {
			return nil, newError(KindInvalid, op, fmt.Errorf("attachment %q: %w", a.Name, err))
		}
		files = append(files, gmail.FileAttachment{Name: a.Name, Path: path, MimeType: a.MimeType})
	}
	return files, nil
}

func attachmentsOrEmpty(a []models.Attachment) []models.Attachment {
	if a == nil {
		return []models.Attachment{}
	}
	return a
}
