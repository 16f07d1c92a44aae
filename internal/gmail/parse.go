package gmail

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ParseMessage parses a raw RFC 5322 message. Text and HTML parts are
// concatenated per type; attachment parts are described but not kept.
func ParseMessage(raw []byte) (*InboundMessage, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	msg := &InboundMessage{}
	h := reader.Header

	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = Address{Name: from[0].Name, Email: normalizeEmail(from[0].Address)}
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, Address{Name: a.Name, Email: normalizeEmail(a.Address)})
		}
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		msg.RFCMessageID = "<" + id + ">"
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = "<" + ids[0] + ">"
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("parse message part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case mediaType == "" || strings.HasPrefix(mediaType, "text/plain"):
				msg.TextBody = appendBody(msg.TextBody, string(body))
			case strings.HasPrefix(mediaType, "text/html"):
				msg.HTMLBody = appendBody(msg.HTMLBody, string(body))
			}
		case *mail.AttachmentHeader:
			name, _ := header.Filename()
			if strings.TrimSpace(name) == "" {
				name = "attachment"
			}
			mediaType, _, _ := header.ContentType()
			n, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, InboundAttachment{Name: name, MimeType: mediaType, Size: n})
		}
	}
	return msg, nil
}

func appendBody(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
