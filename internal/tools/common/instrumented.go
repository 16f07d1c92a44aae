package common

import (
	"context"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
)

// Handler is the mcp-go tool handler signature.
type Handler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// InstrumentedToolHandler wraps handler in a tool span, records
// mcp_tool_invocations_total and logs the outcome at debug level. metrics
// and logger may be nil.
//
// Usage:
//
//	s.AddTool(tool, common.InstrumentedToolHandler("mail_send", metrics, logger, handler))
func InstrumentedToolHandler(toolName string, metrics *instrumentation.Metrics, logger *slog.Logger, handler Handler) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logging.WithTool(logger, toolName)

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, request)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = instrumentation.StatusError
		}
		if err != nil {
			instrumentation.SetSpanError(span, err)
		}
		metrics.RecordToolInvocation(ctx, toolName, status, duration)

		if err != nil {
			log.Error("tool call failed", logging.Status(status), logging.Duration(duration), logging.Err(err))
		} else {
			log.Debug("tool call finished", logging.Status(status), logging.Duration(duration))
		}
		return result, err
	}
}
