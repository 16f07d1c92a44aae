package gmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: \"Lead Person\" <Lead@Acme.io>\r\n" +
	"To: ada@startup.io\r\n" +
	"Subject: Re: Hello\r\n" +
	"Date: Sat, 14 Mar 2026 09:30:00 +0000\r\n" +
	"Message-ID: <reply-1@acme.io>\r\n" +
	"In-Reply-To: <orig-1@startup.io>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sounds good.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Sounds good.</p>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"leads.csv\"\r\n" +
	"\r\n" +
	"a,b\r\n" +
	"--b1--\r\n"

func TestParseMessage_Multipart(t *testing.T) {
	msg, err := ParseMessage([]byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "Re: Hello", msg.Subject)
	assert.Equal(t, Address{Name: "Lead Person", Email: "lead@acme.io"}, msg.From)
	require.Len(t, msg.To, 1)
	assert.Equal(t, "ada@startup.io", msg.To[0].Email)
	assert.Equal(t, "<reply-1@acme.io>", msg.RFCMessageID)
	assert.Equal(t, "<orig-1@startup.io>", msg.InReplyTo)
	assert.Equal(t, 2026, msg.Date.Year())
	assert.Contains(t, msg.TextBody, "Sounds good.")
	assert.Contains(t, msg.HTMLBody, "<p>Sounds good.</p>")
	assert.Equal(t, msg.HTMLBody, msg.Body())

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "leads.csv", msg.Attachments[0].Name)
	assert.Equal(t, "text/csv", msg.Attachments[0].MimeType)
}

func TestParseMessage_PlainText(t *testing.T) {
	raw := "From: lead@acme.io\r\nTo: ada@startup.io\r\nSubject: Hi\r\n\r\nplain body\r\n"
	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Hi", msg.Subject)
	assert.Contains(t, msg.TextBody, "plain body")
	assert.Empty(t, msg.HTMLBody)
	assert.Contains(t, msg.Body(), "plain body")
	assert.Empty(t, msg.Attachments)
}
