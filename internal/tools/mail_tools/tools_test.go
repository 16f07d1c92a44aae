package mail_tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/tools/batch"
)

type fakeMailer struct {
	sent     []dispatch.SendRequest
	replies  []dispatch.ReplyRequest
	read     []string
	filter   models.MessageFilter
	sendMsg  *models.Message
	sendErr  error
	readErrs map[string]error
	unread   map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, req dispatch.SendRequest) (*models.Message, error) {
	f.sent = append(f.sent, req)
	if f.sendMsg != nil {
		return f.sendMsg, f.sendErr
	}
	return &models.Message{ID: "m-1", Subject: req.Subject, Status: models.StatusSent}, f.sendErr
}

func (f *fakeMailer) Reply(_ context.Context, req dispatch.ReplyRequest) (*models.Message, error) {
	f.replies = append(f.replies, req)
	return &models.Message{ID: "m-2", Subject: "Re: Quarterly Update", ParentMessageID: req.MessageID}, nil
}

func (f *fakeMailer) MarkRead(_ context.Context, _ string, id string) (bool, error) {
	f.read = append(f.read, id)
	if err := f.readErrs[id]; err != nil {
		return false, err
	}
	return f.unread[id], nil
}

func (f *fakeMailer) List(_ context.Context, _ string, filter models.MessageFilter) ([]*models.Message, error) {
	f.filter = filter
	return []*models.Message{{ID: "m-1"}, {ID: "m-2"}}, nil
}

func call(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := fn(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return res, text.Text
}

func TestRegisterMailTools(t *testing.T) {
	tests := []struct {
		name     string
		readOnly bool
		want     []string
	}{
		{name: "read-only", readOnly: true, want: []string{"mail_list"}},
		{name: "read-write", want: []string{"mail_list", "mail_mark_read", "mail_reply", "mail_send"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mcpserver.NewMCPServer("outreach", "test", mcpserver.WithToolCapabilities(true))
			require.NoError(t, RegisterMailTools(s, Deps{Mailer: &fakeMailer{}, UserID: "u-1", ReadOnly: tt.readOnly}))

			var names []string
			for name := range s.ListTools() {
				names = append(names, name)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}

	err := RegisterMailTools(mcpserver.NewMCPServer("outreach", "test"), Deps{})
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	m := &fakeMailer{}
	h := &handlers{deps: Deps{Mailer: m, UserID: "u-1"}}

	res, text := call(t, h.send, map[string]any{
		"to":          " bob@acme.io ",
		"toName":      "Bob",
		"subject":     "Intro",
		"body":        "Hello Bob",
		"attachments": []any{"deck.pdf"},
	})
	assert.False(t, res.IsError)
	require.Len(t, m.sent, 1)
	got := m.sent[0]
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "bob@acme.io", got.To)
	assert.Equal(t, instrumentation.ChannelMCP, got.Channel)
	assert.Equal(t, []models.Attachment{{ID: "deck.pdf", Name: "deck.pdf"}}, got.Attachments)

	var msg models.Message
	require.NoError(t, json.Unmarshal([]byte(text), &msg))
	assert.Equal(t, "m-1", msg.ID)
}

func TestSend_Validation(t *testing.T) {
	h := &handlers{deps: Deps{Mailer: &fakeMailer{}, UserID: "u-1"}}

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "missing to", args: map[string]any{"subject": "s", "body": "b"}, want: "'to'"},
		{name: "missing subject", args: map[string]any{"to": "a@b.io", "body": "b"}, want: "'subject'"},
		{name: "missing body", args: map[string]any{"to": "a@b.io", "subject": "s"}, want: "'body'"},
		{name: "bad attachments", args: map[string]any{"to": "a@b.io", "subject": "s", "body": "b", "attachments": "deck.pdf"}, want: "array"},
		{name: "empty attachment", args: map[string]any{"to": "a@b.io", "subject": "s", "body": "b", "attachments": []any{""}}, want: "attachments[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, text := call(t, h.send, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestSend_DeliveryFailureReportsSavedRecord(t *testing.T) {
	m := &fakeMailer{
		sendMsg: &models.Message{ID: "m-9", Status: models.StatusFailed},
		sendErr: &dispatch.Error{Kind: dispatch.KindAuthentication, Op: "dispatch.Send"},
	}
	h := &handlers{deps: Deps{Mailer: m, UserID: "u-1"}}

	res, text := call(t, h.send, map[string]any{"to": "a@b.io", "subject": "s", "body": "b"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "delivery failed, please retry")
	assert.Contains(t, text, "m-9")
}

func TestSend_NotConnected(t *testing.T) {
	h := &handlers{deps: Deps{Mailer: &notConnected{}, UserID: "u-1"}}

	res, text := call(t, h.send, map[string]any{"to": "a@b.io", "subject": "s", "body": "b"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "reconnect your mail account")
	assert.NotContains(t, text, "saved")
}

type notConnected struct{ fakeMailer }

func (n *notConnected) Send(context.Context, dispatch.SendRequest) (*models.Message, error) {
	return nil, &dispatch.Error{Kind: dispatch.KindConfiguration, Op: "dispatch.Send"}
}

func TestReply(t *testing.T) {
	m := &fakeMailer{}
	h := &handlers{deps: Deps{Mailer: m, UserID: "u-1"}}

	res, text := call(t, h.reply, map[string]any{"messageId": "parent-1", "body": "Thanks!"})
	assert.False(t, res.IsError)
	require.Len(t, m.replies, 1)
	assert.Equal(t, "parent-1", m.replies[0].MessageID)
	assert.Equal(t, instrumentation.ChannelMCP, m.replies[0].Channel)
	assert.Contains(t, text, "Re: Quarterly Update")

	res, text = call(t, h.reply, map[string]any{"body": "Thanks!"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "'messageId'")
}

func TestMarkRead_Batch(t *testing.T) {
	m := &fakeMailer{
		unread:   map[string]bool{"m-1": true},
		readErrs: map[string]error{"m-3": &dispatch.Error{Kind: dispatch.KindStorage, Op: "dispatch.MarkRead"}},
	}
	h := &handlers{deps: Deps{Mailer: m, UserID: "u-1"}}

	res, text := call(t, h.markRead, map[string]any{"messageIds": []any{"m-1", "m-2", "m-3"}})
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, m.read)

	var summary batch.Summary
	require.NoError(t, json.Unmarshal([]byte(text), &summary))
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "marked read", summary.Results[0].Result)
	assert.Equal(t, "already read", summary.Results[1].Result)
	assert.Equal(t, "message storage is unavailable", summary.Results[2].Error)

	res, _ = call(t, h.markRead, map[string]any{})
	assert.True(t, res.IsError)
}

func TestList(t *testing.T) {
	m := &fakeMailer{}
	h := &handlers{deps: Deps{Mailer: m, UserID: "u-1"}}

	_, text := call(t, h.list, map[string]any{"type": "received", "limit": float64(5), "unread": true})
	assert.Equal(t, models.TypeReceived, m.filter.Type)
	assert.Equal(t, 5, m.filter.Limit)
	assert.True(t, m.filter.Unread)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal([]byte(text), &msgs))
	assert.Len(t, msgs, 2)

	res, _ := call(t, h.list, map[string]any{"limit": float64(-1)})
	assert.True(t, res.IsError)
}
