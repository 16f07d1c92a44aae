// Package dispatch sends mail on behalf of users.
//
// A send or reply runs in a fixed order:
//
//  1. load the user and obtain an access token (cached or refreshed)
//  2. persist the message record
//  3. deliver through the configured gmail.Transport
//  4. if the transport rejects the token, refresh once and deliver once more
//
// The record is never rolled back. When delivery fails the caller gets the
// persisted message together with an *Error whose Kind says what went
// wrong. With status reconciliation on (the default) the record's status
// is moved to delivered or failed afterwards; with it off the record keeps
// the status "sent" it was created with.
package dispatch
