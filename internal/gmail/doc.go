// Package gmail delivers and reads mail on behalf of a Google account.
//
// Two Transport implementations exist. APITransport posts the composed
// message to the Gmail REST API (users.messages.send) and can pull the
// inbox through users.messages.list/get. SMTPTransport submits to
// smtp.gmail.com with SASL OAUTHBEARER. Both take the access token as a
// value on every call and never refresh it themselves; callers use
// IsAuthError to decide whether a refresh and a retry are worth it.
//
// Compose renders an Envelope into an RFC 5322 message with gomail, and
// ParseMessage reads one back with go-message.
//
// Example:
//
//	transport := gmail.NewAPITransport()
//	res, err := transport.Send(ctx, tok, &gmail.Envelope{
//	    From:     gmail.Address{Name: "Ada", Email: "ada@startup.io"},
//	    To:       gmail.Address{Email: "lead@acme.io"},
//	    Subject:  "Hello",
//	    HTMLBody: "<p>Hi there</p>",
//	})
//	if gmail.IsAuthError(err) {
//	    // refresh tok and try once more
//	}
package gmail
