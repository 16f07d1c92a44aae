// Package logging provides structured logging utilities for the outreach service.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Build the process logger once at startup:
//
//	logger := logging.Setup(cfg.Env, debug)
//	slog.SetDefault(logger)
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "dispatch.send")
//	logger.Info("message delivered",
//	    logging.MessageID(msg.ID),
//	    logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
// User emails are hashed with AnonymizeEmail before they reach a log line, and
// OAuth tokens are only ever logged through SanitizeToken.
package logging
