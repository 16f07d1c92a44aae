package gmail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("Ada@Startup.io")
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@startup.io>"))
	assert.NotEqual(t, id, NewMessageID("ada@startup.io"))

	assert.True(t, strings.HasSuffix(NewMessageID("broken"), "@outreach.local>"))
}

func TestCompose_RequiresAddresses(t *testing.T) {
	_, _, err := Compose(&Envelope{To: Address{Email: "lead@acme.io"}}, time.Now())
	assert.Error(t, err)

	_, _, err = Compose(&Envelope{From: Address{Email: "ada@startup.io"}}, time.Now())
	assert.Error(t, err)
}

func TestCompose_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stored-blob")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o600))

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	env := &Envelope{
		From:       Address{Name: "Ada Lovelace", Email: "ada@startup.io"},
		To:         Address{Name: "Lead", Email: "lead@acme.io"},
		Subject:    "Re: Quarterly Update",
		HTMLBody:   "<p>Numbers attached</p>",
		InReplyTo:  "<parent@acme.io>",
		References: "<parent@acme.io>",
		Attachments: []FileAttachment{
			{Name: "report.pdf", Path: path, MimeType: "application/pdf"},
		},
	}

	raw, messageID, err := Compose(env, now)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(messageID, "@startup.io>"))

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "Re: Quarterly Update", parsed.Subject)
	assert.Equal(t, Address{Name: "Ada Lovelace", Email: "ada@startup.io"}, parsed.From)
	require.Len(t, parsed.To, 1)
	assert.Equal(t, "lead@acme.io", parsed.To[0].Email)
	assert.Equal(t, messageID, parsed.RFCMessageID)
	assert.Equal(t, "<parent@acme.io>", parsed.InReplyTo)
	assert.True(t, parsed.Date.Equal(now))
	assert.Contains(t, parsed.HTMLBody, "Numbers attached")

	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "report.pdf", parsed.Attachments[0].Name)
	assert.Equal(t, "application/pdf", parsed.Attachments[0].MimeType)
	assert.Equal(t, int64(len("%PDF-1.4 fake")), parsed.Attachments[0].Size)
}

func TestCompose_KeepsGivenMessageID(t *testing.T) {
	env := &Envelope{
		From:      Address{Email: "ada@startup.io"},
		To:        Address{Email: "lead@acme.io"},
		Subject:   "Hello",
		HTMLBody:  "<p>hi</p>",
		MessageID: "<fixed@startup.io>",
	}
	_, messageID, err := Compose(env, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "<fixed@startup.io>", messageID)
}

func TestCompose_MissingAttachmentFails(t *testing.T) {
	env := &Envelope{
		From:        Address{Email: "ada@startup.io"},
		To:          Address{Email: "lead@acme.io"},
		HTMLBody:    "<p>hi</p>",
		Attachments: []FileAttachment{{Name: "gone.pdf", Path: filepath.Join(t.TempDir(), "missing")}},
	}
	_, _, err := Compose(env, time.Now())
	assert.Error(t, err)
}
