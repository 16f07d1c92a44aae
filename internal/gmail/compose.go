package gmail

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// NewMessageID returns a fresh Message-ID in the sender's domain.
func NewMessageID(fromEmail string) string {
	domain := "outreach.local"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 && at < len(fromEmail)-1 {
		domain = strings.ToLower(fromEmail[at+1:])
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// Compose renders env as an RFC 5322 message and returns it together with
// the Message-ID it carries. Attachment files are read from disk.
func Compose(env *Envelope, now time.Time) ([]byte, string, error) {
	if env.From.Email == "" {
		return nil, "", fmt.Errorf("compose: sender address is required")
	}
	if env.To.Email == "" {
		return nil, "", fmt.Errorf("compose: recipient address is required")
	}

	messageID := env.MessageID
	if messageID == "" {
		messageID = NewMessageID(env.From.Email)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", env.From.Email, env.From.Name)
	m.SetAddressHeader("To", env.To.Email, env.To.Name)
	m.SetHeader("Subject", env.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetDateHeader("Date", now)
	if env.InReplyTo != "" {
		m.SetHeader("In-Reply-To", env.InReplyTo)
	}
	if env.References != "" {
		m.SetHeader("References", env.References)
	}
	m.SetBody("text/html", env.HTMLBody)

	for _, a := range env.Attachments {
		settings := []gomail.FileSetting{gomail.Rename(a.Name)}
		if a.MimeType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {mime.FormatMediaType(a.MimeType, map[string]string{"name": a.Name})},
			}))
		}
		m.Attach(a.Path, settings...)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}
	return buf.Bytes(), messageID, nil
}
