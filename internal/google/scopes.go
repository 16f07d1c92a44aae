package google

import "strings"

const (
	// ScopeGmailSend permits users.messages.send and SMTP XOAUTH.
	ScopeGmailSend = "https://www.googleapis.com/auth/gmail.send"
	// ScopeMailFull is full mailbox access and includes send.
	ScopeMailFull = "https://mail.google.com/"
	// ScopeGmailReadonly is needed by inbox sync.
	ScopeGmailReadonly = "https://www.googleapis.com/auth/gmail.readonly"
)

// LoginScopes are requested on the consent screen.
var LoginScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	ScopeGmailSend,
	ScopeGmailReadonly,
}

// ScopeGmailModify is read/write mailbox access without deletion.
const ScopeGmailModify = "https://www.googleapis.com/auth/gmail.modify"

// SendScopes lists the scopes any one of which allows sending mail.
var SendScopes = []string{ScopeGmailSend, ScopeGmailModify, ScopeMailFull}

// ReadScopes lists the scopes any one of which allows listing and reading
// the inbox.
var ReadScopes = []string{ScopeGmailReadonly, ScopeGmailModify, ScopeMailFull}

// ParseScopes splits a scope string on spaces and commas.
func ParseScopes(scopes string) []string {
	return strings.FieldsFunc(scopes, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
}

// HasSendScope reports whether scopes grants one of SendScopes.
func HasSendScope(scopes string) bool {
	return HasAnyScope(scopes, SendScopes...)
}

// HasReadScope reports whether scopes grants one of ReadScopes.
func HasReadScope(scopes string) bool {
	return HasAnyScope(scopes, ReadScopes...)
}

// HasAnyScope reports whether scopes contains at least one of want.
func HasAnyScope(scopes string, want ...string) bool {
	for _, s := range ParseScopes(scopes) {
		for _, w := range want {
			if s == w {
				return true
			}
		}
	}
	return false
}
