package gmail

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// FileAttachment is a stored file to attach to an outgoing message.
type FileAttachment struct {
	Name     string // file name shown to the recipient
	Path     string // local path of the stored blob
	MimeType string
}

// Envelope is everything a transport needs to deliver one message.
type Envelope struct {
	From        Address
	To          Address
	Subject     string
	HTMLBody    string
	Attachments []FileAttachment

	// MessageID is the RFC 5322 Message-ID, including angle brackets.
	// Compose generates one when empty.
	MessageID string

	// Threading. InReplyTo and References carry the parent's Message-ID;
	// ThreadID is the Gmail thread to append to.
	InReplyTo  string
	References string
	ThreadID   string
}

// Result identifies a delivered message. ExternalID and ThreadID are only
// known when delivering through the Gmail API.
type Result struct {
	ExternalID   string
	ThreadID     string
	RFCMessageID string
}

// Transport delivers an Envelope on behalf of the token's owner.
type Transport interface {
	Name() string
	Send(ctx context.Context, tok *oauth2.Token, env *Envelope) (Result, error)
}

// InboxFetcher pulls recent inbound messages.
type InboxFetcher interface {
	FetchInbox(ctx context.Context, tok *oauth2.Token, limit int64) ([]*InboundMessage, error)
}

// InboundAttachment describes a file part of a received message.
type InboundAttachment struct {
	Name     string
	MimeType string
	Size     int64
}

// InboundMessage is a received message parsed from its raw RFC 5322 form.
type InboundMessage struct {
	ExternalID   string
	ThreadID     string
	RFCMessageID string
	InReplyTo    string

	From    Address
	To      []Address
	Subject string
	Date    time.Time

	TextBody    string
	HTMLBody    string
	Attachments []InboundAttachment

	Unread bool
}

// Body returns the HTML body when present, otherwise the text body.
func (m *InboundMessage) Body() string {
	if m.HTMLBody != "" {
		return m.HTMLBody
	}
	return m.TextBody
}
