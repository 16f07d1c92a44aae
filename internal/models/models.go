// Package models holds the persistent records shared by the stores, the
// dispatch service and the HTTP API.
package models

import (
	"time"
)

// ProfileType is the kind of account a user registered as.
type ProfileType string

const (
	ProfileOrganization ProfileType = "organization"
	ProfileIndividual   ProfileType = "individual"
)

// Valid reports whether p is a known profile type.
func (p ProfileType) Valid() bool {
	return p == ProfileOrganization || p == ProfileIndividual
}

// User is an account created on first Google login.
//
// AccessToken and RefreshToken are the cached OAuth pair. They are updated
// in place whenever a refresh succeeds. A refresh token, once obtained, is
// kept until a new one replaces it.
type User struct {
	ID               string         `json:"id" bson:"_id"`
	GoogleID         string         `json:"googleId" bson:"google_id"`
	Name             string         `json:"name" bson:"name"`
	Email            string         `json:"email" bson:"email"`
	Picture          string         `json:"picture,omitempty" bson:"picture,omitempty"`
	AccessToken      string         `json:"-" bson:"access_token,omitempty"`
	RefreshToken     string         `json:"-" bson:"refresh_token,omitempty"`
	TokenExpiry      time.Time      `json:"-" bson:"token_expiry,omitempty"`
	Scopes           string         `json:"-" bson:"scopes,omitempty"`
	ProfileType      ProfileType    `json:"profileType,omitempty" bson:"profile_type,omitempty"`
	ProfileCompleted bool           `json:"profileCompleted" bson:"profile_completed"`
	ProfileDetails   map[string]any `json:"profileDetails,omitempty" bson:"profile_details,omitempty"`
	LastLogin        time.Time      `json:"lastLogin" bson:"last_login"`
	CreatedAt        time.Time      `json:"createdAt" bson:"created_at"`
}

// HasMailAccount reports whether the user has a cached refresh token.
func (u *User) HasMailAccount() bool {
	return u.RefreshToken != ""
}

// Tokens is the OAuth state written back after a login or refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       string
}

// MessageStatus is the delivery state of a message record.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// MessageType tells which side of a conversation the owner was on.
type MessageType string

const (
	TypeSent     MessageType = "sent"
	TypeReceived MessageType = "received"
	TypeDraft    MessageType = "draft"
)

// Message is a sent or received mail record, threaded by ConversationID.
type Message struct {
	ID              string        `json:"id" bson:"_id"`
	UserID          string        `json:"userId" bson:"user_id"`
	Sender          string        `json:"sender" bson:"sender"`
	SenderEmail     string        `json:"senderEmail" bson:"sender_email"`
	Recipient       string        `json:"recipient" bson:"recipient"`
	RecipientEmail  string        `json:"recipientEmail" bson:"recipient_email"`
	Subject         string        `json:"subject" bson:"subject"`
	Content         string        `json:"content" bson:"content"`
	Preview         string        `json:"preview" bson:"preview"`
	Attachments     []Attachment  `json:"attachments" bson:"attachments"`
	IsAutomated     bool          `json:"isAutomated" bson:"is_automated"`
	IsRead          bool          `json:"isRead" bson:"is_read"`
	Avatar          string        `json:"avatar,omitempty" bson:"avatar,omitempty"`
	ConversationID  string        `json:"conversationId" bson:"conversation_id"`
	ParentMessageID string        `json:"parentMessageId,omitempty" bson:"parent_message_id,omitempty"`
	MessageType     MessageType   `json:"messageType" bson:"message_type"`
	Status          MessageStatus `json:"status" bson:"status"`
	ExternalID      string        `json:"externalId,omitempty" bson:"external_id,omitempty"`
	ThreadID        string        `json:"threadId,omitempty" bson:"thread_id,omitempty"`
	RFCMessageID    string        `json:"rfcMessageId,omitempty" bson:"rfc_message_id,omitempty"`
	SentAt          time.Time     `json:"sentAt" bson:"sent_at"`
	ReadAt          *time.Time    `json:"readAt,omitempty" bson:"read_at,omitempty"`
	CreatedAt       time.Time     `json:"createdAt" bson:"created_at"`
}

// Counterpart returns the address a reply to m should go to.
func (m *Message) Counterpart() (name, email string) {
	if m.MessageType == TypeReceived {
		return m.Sender, m.SenderEmail
	}
	return m.Recipient, m.RecipientEmail
}

// AttachmentType is the coarse classification of an attachment.
type AttachmentType string

const (
	AttachmentPDF      AttachmentType = "pdf"
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
)

// Attachment references an uploaded file.
type Attachment struct {
	ID       string         `json:"id" bson:"id"`
	Name     string         `json:"name" bson:"name"`
	Size     string         `json:"size" bson:"size"`
	Type     AttachmentType `json:"type" bson:"type"`
	URL      string         `json:"url" bson:"url"`
	MimeType string         `json:"mimeType" bson:"mime_type"`
}

// MessageFilter narrows ListMessages.
type MessageFilter struct {
	UserID string
	Type   MessageType
	Unread bool
	Limit  int
}
