package dispatch

import (
	"errors"
	"fmt"

	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/store"
)

// Kind classifies a dispatch failure for the caller.
type Kind string

const (
	// KindConfiguration: the user has no refresh token and must reconnect
	// their mail account. Not retryable.
	KindConfiguration Kind = "configuration"
	// KindAuthentication: the token endpoint failed or the transport
	// rejected the token twice.
	KindAuthentication Kind = "authentication"
	// KindScope: the token lacks the scope the operation needs. The user
	// must consent again.
	KindScope Kind = "scope"
	// KindStorage: persistence failed. Nothing was delivered.
	KindStorage Kind = "storage"
	// KindTransport: delivery failed for a reason other than credentials.
	KindTransport Kind = "transport"
	KindNotFound  Kind = "not_found"
	KindInvalid   Kind = "invalid"
	// KindUnsupported: the configured transport cannot do this.
	KindUnsupported Kind = "unsupported"
)

// Error is returned by every Service operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is nil or not an *Error.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func storageError(op string, err error) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, op, err)
	}
	return newError(KindStorage, op, err)
}

// tokenError classifies a failure to obtain or refresh an access token.
func tokenError(op string, err error) *Error {
	switch {
	case errors.Is(err, google.ErrNoRefreshToken):
		return newError(KindConfiguration, op, err)
	case errors.Is(err, google.ErrInsufficientScope):
		return newError(KindScope, op, err)
	default:
		return newError(KindAuthentication, op, err)
	}
}

// deliveryError classifies a failed transport attempt.
func deliveryError(op string, err error) *Error {
	switch {
	case errors.Is(err, gmail.ErrInsufficientPermission):
		return newError(KindScope, op, err)
	case gmail.IsAuthError(err):
		return newError(KindAuthentication, op, err)
	default:
		return newError(KindTransport, op, err)
	}
}
