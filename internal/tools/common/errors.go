package common

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ingeniumai/outreach/internal/dispatch"
)

// ErrorText turns a dispatch error into the text shown to the tool caller.
// Credentials and provider responses are never included.
func ErrorText(err error) string {
	switch dispatch.KindOf(err) {
	case dispatch.KindConfiguration:
		return "mail account not connected: reconnect your mail account in the web app"
	case dispatch.KindAuthentication, dispatch.KindTransport:
		return "delivery failed, please retry"
	case dispatch.KindScope:
		return "the connected mail account has not granted the permission this operation needs"
	case dispatch.KindStorage:
		return "message storage is unavailable"
	case dispatch.KindNotFound:
		return "message not found"
	case dispatch.KindUnsupported:
		return "not available with the configured mail transport"
	case dispatch.KindInvalid:
		var derr *dispatch.Error
		if errors.As(err, &derr) && derr.Err != nil {
			return fmt.Sprintf("invalid request: %v", derr.Err)
		}
		return "invalid request"
	}
	return "internal error"
}

// ErrorResult renders err as a tool error. When a record was persisted
// before delivery failed its id is appended.
func ErrorResult(err error, messageID string) *mcp.CallToolResult {
	text := ErrorText(err)
	if messageID != "" {
		text += fmt.Sprintf(" (message %s was saved with status failed)", messageID)
	}
	return mcp.NewToolResultError(text)
}
