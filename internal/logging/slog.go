package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation      = "operation"
	KeyTransport      = "transport"
	KeyUserID         = "user_id"
	KeyUserHash       = "user_hash"
	KeyMessageID      = "message_id"
	KeyConversationID = "conversation_id"
	KeyAttempt        = "attempt"
	KeyDuration       = "duration"
	KeyStatus         = "status"
	KeyError          = "error"
	KeyTool           = "tool"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// WithUser returns a logger scoped to a user id.
func WithUser(logger *slog.Logger, userID string) *slog.Logger {
	return logger.With(slog.String(KeyUserID, userID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// UserID returns a slog attribute for an internal user id.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Duration returns a slog attribute for an elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// Transport returns a slog attribute for the mail transport name.
func Transport(name string) slog.Attr {
	return slog.String(KeyTransport, name)
}

// MessageID returns a slog attribute for a stored message id.
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// ConversationID returns a slog attribute for a conversation id.
func ConversationID(id string) slog.Attr {
	return slog.String(KeyConversationID, id)
}

// Attempt returns a slog attribute for the delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(email)))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
//
// Usage:
//
//	logger.Info("message delivered", logging.UserHash(user.Email))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeToken returns a masked version of a token for logging.
// Only a length indicator is returned, never any token content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain extracts the domain part from an email address.
func ExtractDomain(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// Domain returns a slog attribute for the email domain (lower cardinality than full email).
func Domain(email string) slog.Attr {
	return slog.String("recipient_domain", ExtractDomain(email))
}
