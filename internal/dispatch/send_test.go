package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingeniumai/outreach/internal/events"
	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/models"
)

func TestSend_PersistsOneMessagePerSend(t *testing.T) {
	f := newFixture(t)
	f.tokens.cached = "fresh"
	svc := f.service()

	first, err := svc.Send(t.Context(), f.sendRequest())
	require.NoError(t, err)
	second, err := svc.Send(t.Context(), f.sendRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEmpty(t, first.ConversationID)
	assert.NotEqual(t, first.ConversationID, second.ConversationID)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, f.tokens.refreshCount())
	assert.Len(t, f.transport.calls(), 2)
}

func TestSend_StaleTokenRefreshedOnce(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	msg, err := svc.Send(t.Context(), f.sendRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, f.tokens.refreshCount())
	assert.Equal(t, []string{"stale", "fresh"}, f.transport.calls())

	assert.Equal(t, "Hello there", msg.Preview)
	assert.Equal(t, "a@b.com", msg.RecipientEmail)
	assert.Equal(t, "a@b.com", msg.Recipient)
	assert.Equal(t, "Ada", msg.Sender)
	assert.Equal(t, models.TypeSent, msg.MessageType)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	assert.Equal(t, "gm-1", msg.ExternalID)

	stored, err := f.store.MessageByID(t.Context(), f.user.GoogleID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.Equal(t, "thr-1", stored.ThreadID)
	assert.Equal(t, msg.RFCMessageID, stored.RFCMessageID)

	// Both attempts carry the same Message-ID.
	envs := f.transport.envelopes
	require.Len(t, envs, 2)
	assert.Equal(t, envs[0].MessageID, envs[1].MessageID)
	assert.Equal(t, msg.RFCMessageID, envs[0].MessageID)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, events.TypeDelivered, ev.Type)
	assert.Equal(t, 2, ev.Attempts)
	assert.True(t, ev.TokenRefreshed)
	assert.Equal(t, "fake", ev.Transport)
}

func TestSend_RejectedTwice(t *testing.T) {
	f := newFixture(t)
	f.transport = newFakeTransport()
	svc := f.service()

	msg, err := svc.Send(t.Context(), f.sendRequest())
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Equal(t, 1, f.tokens.refreshCount())
	assert.Len(t, f.transport.calls(), 2)

	require.NotNil(t, msg, "the persisted record is returned with the error")
	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TypeFailed, f.events.events[0].Type)
	assert.Equal(t, string(KindAuthentication), f.events.events[0].ErrorKind)
}

func TestSend_NonAuthFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.transport.failWith = errors.New("connection reset")
	svc := f.service()

	_, err := svc.Send(t.Context(), f.sendRequest())
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, 0, f.tokens.refreshCount())
	assert.Len(t, f.transport.calls(), 1)
	assert.Len(t, f.messages(t), 1)
}

func TestSend_PermissionDeniedIsScopeError(t *testing.T) {
	f := newFixture(t)
	f.transport.failWith = fmt.Errorf("gmail send: %w", gmail.ErrInsufficientPermission)
	svc := f.service()

	_, err := svc.Send(t.Context(), f.sendRequest())
	assert.Equal(t, KindScope, KindOf(err))
	assert.Equal(t, 0, f.tokens.refreshCount())
}

func TestSend_RefreshFailure(t *testing.T) {
	f := newFixture(t)
	f.tokens.refreshErr = fmt.Errorf("%w: revoked", google.ErrRefreshFailed)
	svc := f.service()

	_, err := svc.Send(t.Context(), f.sendRequest())
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.ErrorIs(t, err, google.ErrRefreshFailed)
	assert.Len(t, f.transport.calls(), 1)
	assert.Equal(t, 1, f.tokens.refreshCount())
}

func TestSend_TokenErrorsStopBeforePersistence(t *testing.T) {
	tests := []struct {
		name      string
		accessErr error
		noRefresh bool
		want      Kind
	}{
		{name: "no refresh token", noRefresh: true, want: KindConfiguration},
		{name: "insufficient scope", accessErr: google.ErrInsufficientScope, want: KindScope},
		{name: "refresh failed", accessErr: fmt.Errorf("%w: invalid_grant", google.ErrRefreshFailed), want: KindAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSQLite(t)
			refresh := "refresh-1"
			if tt.noRefresh {
				refresh = ""
			}
			user := seedUser(t, s, refresh)
			tokens := &fakeTokens{cached: "fresh", accessErr: tt.accessErr}
			transport := newFakeTransport("fresh")
			svc := New(s, s, tokens, transport)

			_, err := svc.Send(t.Context(), SendRequest{UserID: user.ID, To: "a@b.com", Subject: "Hi", Body: "Hello"})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Empty(t, transport.calls())

			msgs, err := s.ListMessages(t.Context(), models.MessageFilter{UserID: user.GoogleID})
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestSend_StorageFailureBeforeDelivery(t *testing.T) {
	f := newFixture(t)
	failing := &failingStore{Store: f.store, failCreate: true}
	svc := New(failing, failing, f.tokens, f.transport)

	msg, err := svc.Send(t.Context(), f.sendRequest())
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, f.transport.calls())
}

func TestSend_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	tests := []struct {
		name string
		req  SendRequest
	}{
		{name: "bad recipient", req: SendRequest{UserID: f.user.ID, To: "not-an-email", Subject: "Hi", Body: "x"}},
		{name: "missing subject", req: SendRequest{UserID: f.user.ID, To: "a@b.com", Body: "x"}},
		{name: "missing body", req: SendRequest{UserID: f.user.ID, To: "a@b.com", Subject: "Hi"}},
		{name: "missing user", req: SendRequest{To: "a@b.com", Subject: "Hi", Body: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(t.Context(), tt.req)
			assert.Equal(t, KindInvalid, KindOf(err))
		})
	}
	assert.Empty(t, f.transport.calls())
}

func TestSend_UnknownUser(t *testing.T) {
	f := newFixture(t)
	req := f.sendRequest()
	req.UserID = "nobody"

	_, err := f.service().Send(t.Context(), req)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSend_ReconcileOffKeepsSentStatus(t *testing.T) {
	f := newFixture(t)
	f.transport = newFakeTransport()
	svc := f.service(WithReconcileStatus(false))

	_, err := svc.Send(t.Context(), f.sendRequest())
	require.Error(t, err)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
}

func TestSend_ReconcileOffStillLinksGmailIDs(t *testing.T) {
	f := newFixture(t)
	svc := f.service(WithReconcileStatus(false))

	msg, err := svc.Send(t.Context(), f.sendRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "gm-1", msg.ExternalID)
}

type mapResolver map[string]string

func (m mapResolver) Resolve(ref string) (string, error) {
	if p, ok := m[ref]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}

func TestSend_Attachments(t *testing.T) {
	f := newFixture(t)
	f.tokens.cached = "fresh"
	svc := f.service(WithAttachments(mapResolver{"/attachments/a1.pdf": "/data/a1.pdf"}))

	req := f.sendRequest()
	req.Attachments = []models.Attachment{{ID: "a1", Name: "deck.pdf", URL: "/attachments/a1.pdf", MimeType: "application/pdf", Type: models.AttachmentPDF}}
	msg, err := svc.Send(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)

	env := f.transport.envelopes[0]
	require.Len(t, env.Attachments, 1)
	assert.Equal(t, gmail.FileAttachment{Name: "deck.pdf", Path: "/data/a1.pdf", MimeType: "application/pdf"}, env.Attachments[0])

	req.Attachments[0].URL = "/attachments/missing.pdf"
	_, err = svc.Send(t.Context(), req)
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestSend_EventFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	_, err := f.service().Send(t.Context(), f.sendRequest())
	assert.NoError(t, err)
}

func TestSend_AuditEntry(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	svc := f.service(WithAuditLogger(audit))

	req := f.sendRequest()
	req.Channel = instrumentation.ChannelMCP
	msg, err := svc.Send(t.Context(), req)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mail_dispatched", entry["msg"])
	assert.Equal(t, "send", entry["operation"])
	assert.Equal(t, "mcp", entry["channel"])
	assert.Equal(t, msg.ID, entry["message_id"])
	assert.Equal(t, float64(2), entry["attempts"])
	assert.Equal(t, true, entry["refreshed"])
	assert.Equal(t, "b.com", entry["recipient_domain"])
	assert.NotContains(t, buf.String(), "a@b.com")
}

func TestReply_ThreadsAndMarksParentRead(t *testing.T) {
	f := newFixture(t)
	parent := f.seedReceived(t, "parent-1", "conv-1")
	svc := f.service()

	reply, err := svc.Reply(t.Context(), ReplyRequest{UserID: f.user.ID, MessageID: parent.ID, Body: "Numbers attached."})
	require.NoError(t, err)

	assert.Equal(t, "conv-1", reply.ConversationID)
	assert.Equal(t, parent.ID, reply.ParentMessageID)
	assert.Equal(t, "Re: Quarterly Update", reply.Subject)
	assert.Equal(t, "lead@acme.io", reply.RecipientEmail)
	assert.Equal(t, "Lead", reply.Recipient)

	env := f.transport.envelopes[0]
	assert.Equal(t, "<parent@acme.io>", env.InReplyTo)
	assert.Equal(t, "<parent@acme.io>", env.References)
	assert.Equal(t, "thr-parent", env.ThreadID)

	stored, err := f.store.MessageByID(t.Context(), f.user.GoogleID, parent.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
	assert.NotNil(t, stored.ReadAt)
}

func TestReply_ParentReadEvenWhenDeliveryFails(t *testing.T) {
	f := newFixture(t)
	f.transport = newFakeTransport()
	parent := f.seedReceived(t, "parent-1", "conv-1")
	svc := f.service()

	reply, err := svc.Reply(t.Context(), ReplyRequest{UserID: f.user.ID, MessageID: parent.ID, Body: "Hi"})
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	require.NotNil(t, reply)
	assert.Equal(t, "conv-1", reply.ConversationID)
	assert.Equal(t, 1, f.tokens.refreshCount())

	stored, err := f.store.MessageByID(t.Context(), f.user.GoogleID, parent.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
}

func TestReply_DoesNotDoublePrefix(t *testing.T) {
	f := newFixture(t)
	f.tokens.cached = "fresh"
	parent := f.seedReceived(t, "parent-1", "conv-1")
	svc := f.service()

	first, err := svc.Reply(t.Context(), ReplyRequest{UserID: f.user.ID, MessageID: parent.ID, Body: "one"})
	require.NoError(t, err)
	second, err := svc.Reply(t.Context(), ReplyRequest{UserID: f.user.ID, MessageID: first.ID, Body: "two"})
	require.NoError(t, err)

	assert.Equal(t, "Re: Quarterly Update", second.Subject)
	assert.Equal(t, "conv-1", second.ConversationID)
	// Replying to our own sent reply goes back to its recipient.
	assert.Equal(t, "lead@acme.io", second.RecipientEmail)
}

func TestReply_ParentNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service().Reply(t.Context(), ReplyRequest{UserID: f.user.ID, MessageID: "missing", Body: "Hi"})
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Empty(t, f.transport.calls())
}

func TestReply_MarkReadFailureIsStorageError(t *testing.T) {
	f := newFixture(t)
	parent := f.seedReceived(t, "parent-1", "conv-1")
	failing := &failingStore{Store: f.store, failMarkRead: true}
	svc := New(failing, failing, f.tokens, f.transport)

	msg, err := svc.Reply(t.Context(), ReplyRequest{UserID: f.user.ID, MessageID: parent.ID, Body: "Hi"})
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Nil(t, msg)
	assert.Empty(t, f.transport.calls())

	conv, err := f.store.Conversation(t.Context(), f.user.GoogleID, parent.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv, 1, "no reply record is left behind")
	assert.Equal(t, parent.ID, conv[0].ID)
}

func TestSend_TimeoutBoundsStalledTransport(t *testing.T) {
	f := newFixture(t)
	f.tokens.cached = "fresh"
	svc := New(f.store, f.store, f.tokens, stallingTransport{},
		WithEvents(f.events),
		WithTimeout(50*time.Millisecond),
	)

	start := time.Now()
	msg, err := svc.Send(context.Background(), f.sendRequest())
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, msg)

	// The outcome is still written once the request budget is spent.
	stored, err := f.store.MessageByID(context.Background(), f.user.GoogleID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TypeFailed, f.events.events[0].Type)
}

func TestSend_RequestsSendScopes(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	_, err := svc.Send(t.Context(), f.sendRequest())
	require.NoError(t, err)
	require.Len(t, f.tokens.scopes, 2, "cached lookup and one refresh")
	for _, got := range f.tokens.scopes {
		assert.Equal(t, google.SendScopes, got)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := newError(KindTransport, "dispatch.Send", errors.New("boom"))
	assert.Equal(t, "dispatch.Send: transport: boom", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindTransport, KindOf(wrapped))
}

func TestSend_RefreshLogCarriesAttempt(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	svc := f.service(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	_, err := svc.Send(t.Context(), f.sendRequest())
	require.NoError(t, err)

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["msg"] == "access token rejected, refreshing" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, "fake", entry["transport"])
	assert.Equal(t, float64(1), entry["attempt"])
	assert.Equal(t, "dispatch.Send", entry["operation"])
}
