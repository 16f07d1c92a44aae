package instrumentation

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans created by this module.
const TracerName = "github.com/ingeniumai/outreach"

// Span attribute keys.
const (
	SpanAttrTool           = "mcp.tool"
	SpanAttrService        = "google.service"
	SpanAttrOperation      = "google.operation"
	SpanAttrUser           = "outreach.user"
	SpanAttrMessageID      = "mail.message_id"
	SpanAttrConversationID = "mail.conversation_id"
	SpanAttrTransport      = "mail.transport"
	SpanAttrAttempt        = "mail.attempt"
	SpanAttrRecipientHost  = "mail.recipient_domain"
	SpanAttrRefreshed      = "mail.token_refreshed"
)

// SpanAttributeBuilder collects span attributes under consistent keys.
// Empty values are skipped.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates an empty builder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 8),
	}
}

func (b *SpanAttributeBuilder) add(key, value string) *SpanAttributeBuilder {
	if value != "" {
		b.attrs = append(b.attrs, attribute.String(key, value))
	}
	return b
}

// WithTool adds the MCP tool name.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	return b.add(SpanAttrTool, tool)
}

// WithUser adds an anonymized user identifier. Never pass a raw email.
func (b *SpanAttributeBuilder) WithUser(userHash string) *SpanAttributeBuilder {
	return b.add(SpanAttrUser, userHash)
}

// WithMessage adds the message and conversation ids.
func (b *SpanAttributeBuilder) WithMessage(messageID, conversationID string) *SpanAttributeBuilder {
	b.add(SpanAttrMessageID, messageID)
	return b.add(SpanAttrConversationID, conversationID)
}

// WithRecipient adds the recipient's domain.
func (b *SpanAttributeBuilder) WithRecipient(email string) *SpanAttributeBuilder {
	if email == "" {
		return b
	}
	return b.add(SpanAttrRecipientHost, ExtractUserDomain(email))
}

// WithTransport adds the delivery transport name.
func (b *SpanAttributeBuilder) WithTransport(transport string) *SpanAttributeBuilder {
	return b.add(SpanAttrTransport, transport)
}

// Build returns the collected attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrTool, toolName))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "tool."+toolName,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartGoogleAPISpan starts a client span named google.<service>.<operation>.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartDeliverySpan starts a client span for one transport attempt.
func StartDeliverySpan(ctx context.Context, transport string, attempt int) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "mail.deliver",
		trace.WithAttributes(
			attribute.String(SpanAttrTransport, transport),
			attribute.String(SpanAttrAttempt, strconv.Itoa(attempt)),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records err on the span and marks it failed. A nil err is ignored.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks the span OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds a named event to the span.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace id of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span id of the span in ctx, or "".
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
