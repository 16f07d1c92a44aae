package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrUnauthorized means the transport rejected the access token.
	ErrUnauthorized = errors.New("mail transport rejected credentials")

	// ErrInsufficientPermission means the token is valid but may not send.
	ErrInsufficientPermission = errors.New("mail transport denied permission")
)

// IsAuthError reports whether err is an authentication-class failure that
// a token refresh may fix.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return true
	}

	var berr *sasl.OAuthBearerError
	if errors.As(err, &berr) {
		return true
	}

	var serr *smtp.SMTPError
	if errors.As(err, &serr) {
		return isSMTPAuthCode(serr.Code)
	}
	return false
}

// 530 authentication required, 534 mechanism too weak / web login
// required, 535 credentials invalid.
func isSMTPAuthCode(code int) bool {
	return code == 530 || code == 534 || code == 535
}

// classifyAPIError tags Gmail API errors with the package sentinels.
func classifyAPIError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
		case gerr.Code == http.StatusForbidden && isScopeReason(gerr):
			return fmt.Errorf("%s: %w: %w", op, ErrInsufficientPermission, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isScopeReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "insufficientPermissions" || item.Reason == "ACCESS_TOKEN_SCOPE_INSUFFICIENT" {
			return true
		}
	}
	for _, d := range gerr.Details {
		if m, ok := d.(map[string]any); ok && m["reason"] == "ACCESS_TOKEN_SCOPE_INSUFFICIENT" {
			return true
		}
	}
	return false
}

// classifySMTPError tags SMTP and SASL failures with the package sentinels.
func classifySMTPError(op string, err error) error {
	if IsAuthError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
