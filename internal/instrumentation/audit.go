package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DispatchRecord is the audit trail entry for one send or reply request.
//
// SenderEmail and RecipientEmail are PII. LogAttrs reduces them to domains;
// LogAuditAttrs keeps them and must only feed access-controlled sinks.
type DispatchRecord struct {
	Operation string // OperationSend or OperationReply
	Channel   string // ChannelHTTP or ChannelMCP

	UserID         string
	SenderEmail    string
	RecipientEmail string

	MessageID      string
	ConversationID string
	Transport      string

	Attempts  int
	Refreshed bool

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	ErrorKind string
	Error     string

	TraceID string
	SpanID  string
}

// NewDispatchRecord starts timing a dispatch.
func NewDispatchRecord(operation, channel string) *DispatchRecord {
	return &DispatchRecord{
		Operation: operation,
		Channel:   channel,
		StartTime: time.Now(),
	}
}

// WithUser sets the acting user.
func (r *DispatchRecord) WithUser(userID, senderEmail string) *DispatchRecord {
	r.UserID = userID
	r.SenderEmail = senderEmail
	return r
}

// WithMessage sets the persisted message identity and its recipient.
func (r *DispatchRecord) WithMessage(messageID, conversationID, recipientEmail string) *DispatchRecord {
	r.MessageID = messageID
	r.ConversationID = conversationID
	r.RecipientEmail = recipientEmail
	return r
}

// WithDelivery sets what the delivery loop did.
func (r *DispatchRecord) WithDelivery(transport string, attempts int, refreshed bool) *DispatchRecord {
	r.Transport = transport
	r.Attempts = attempts
	r.Refreshed = refreshed
	return r
}

// WithSpanContext copies trace and span ids from ctx.
func (r *DispatchRecord) WithSpanContext(ctx context.Context) *DispatchRecord {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.TraceID = span.SpanContext().TraceID().String()
		r.SpanID = span.SpanContext().SpanID().String()
	}
	return r
}

// Complete stops timing. kind is the error category and is ignored when err is nil.
func (r *DispatchRecord) Complete(kind string, err error) *DispatchRecord {
	r.Duration = time.Since(r.StartTime)
	r.Success = err == nil
	if err != nil {
		r.ErrorKind = kind
		r.Error = err.Error()
	}
	return r
}

// Status returns StatusSuccess or StatusError.
func (r *DispatchRecord) Status() string {
	if r.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns attributes safe for general logs.
func (r *DispatchRecord) LogAttrs() []slog.Attr {
	attrs := r.commonAttrs()
	if r.SenderEmail != "" {
		attrs = append(attrs, slog.String("sender_domain", ExtractUserDomain(r.SenderEmail)))
	}
	if r.RecipientEmail != "" {
		attrs = append(attrs, slog.String("recipient_domain", ExtractUserDomain(r.RecipientEmail)))
	}
	return r.appendTail(attrs)
}

// LogAuditAttrs returns attributes including full addresses.
func (r *DispatchRecord) LogAuditAttrs() []slog.Attr {
	attrs := r.commonAttrs()
	if r.SenderEmail != "" {
		attrs = append(attrs, slog.String("sender", r.SenderEmail))
	}
	if r.RecipientEmail != "" {
		attrs = append(attrs, slog.String("recipient", r.RecipientEmail))
	}
	if r.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", r.SpanID))
	}
	return r.appendTail(attrs)
}

func (r *DispatchRecord) commonAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("operation", r.Operation),
		slog.String("channel", r.Channel),
		slog.Duration("duration", r.Duration),
		slog.Bool("success", r.Success),
		slog.Int("attempts", r.Attempts),
		slog.Bool("refreshed", r.Refreshed),
	}
	if r.UserID != "" {
		attrs = append(attrs, slog.String("user_id", r.UserID))
	}
	if r.MessageID != "" {
		attrs = append(attrs, slog.String("message_id", r.MessageID))
	}
	if r.ConversationID != "" {
		attrs = append(attrs, slog.String("conversation_id", r.ConversationID))
	}
	if r.Transport != "" {
		attrs = append(attrs, slog.String("transport", r.Transport))
	}
	return attrs
}

func (r *DispatchRecord) appendTail(attrs []slog.Attr) []slog.Attr {
	if r.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", r.TraceID))
	}
	if r.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", r.ErrorKind))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	return attrs
}

// AuditLogger writes dispatch records to a dedicated logger.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger returns an enabled audit logger without PII.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig returns an audit logger configured by cfg.
func NewAuditLoggerWithConfig(logger *slog.Logger, cfg AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("component", "audit")),
		includePII: cfg.IncludePII,
		enabled:    cfg.Enabled,
	}
}

// LogDispatch writes r at info on success and warn on failure. A nil
// logger is a no-op.
func (al *AuditLogger) LogDispatch(ctx context.Context, r *DispatchRecord) {
	if al == nil || !al.enabled || r == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = r.LogAuditAttrs()
	} else {
		attrs = r.LogAttrs()
	}

	level := slog.LevelInfo
	msg := "mail_dispatched"
	if !r.Success {
		level = slog.LevelWarn
		msg = "mail_dispatch_failed"
	}
	al.logger.LogAttrs(ctx, level, msg, attrs...)
}
