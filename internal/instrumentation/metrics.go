package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod          = "method"
	attrPath            = "path"
	attrStatus          = "status"
	attrOperation       = "operation"
	attrService         = "service"
	attrResult          = "result"
	attrTool            = "tool"
	attrTransport       = "transport"
	attrAttempt         = "attempt"
	attrChannel         = "channel"
	attrKind            = "kind"
	attrEvent           = "event"
	attrRecipientDomain = "recipient_domain"
)

// Metrics records the service's counters and histograms. The zero value is
// a valid no-op recorder.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	loginTotal             metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter

	deliveryAttemptsTotal metric.Int64Counter
	deliveryDuration      metric.Float64Histogram
	dispatchTotal         metric.Int64Counter

	eventsPublishedTotal metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	detailedLabels bool
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.loginTotal, err = meter.Int64Counter(
		"oauth_login_total",
		metric.WithDescription("Total number of Google sign-in attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_login_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.deliveryAttemptsTotal, err = meter.Int64Counter(
		"mail_delivery_attempts_total",
		metric.WithDescription("Total number of mail transport attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_delivery_attempts_total counter: %w", err)
	}

	m.deliveryDuration, err = meter.Float64Histogram(
		"mail_delivery_duration_seconds",
		metric.WithDescription("Mail transport attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_delivery_duration_seconds histogram: %w", err)
	}

	m.dispatchTotal, err = meter.Int64Counter(
		"mail_dispatch_total",
		metric.WithDescription("Total number of send and reply requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_dispatch_total counter: %w", err)
	}

	m.eventsPublishedTotal, err = meter.Int64Counter(
		"mail_events_published_total",
		metric.WithDescription("Total number of mail lifecycle events published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_events_published_total counter: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request. path should be the route
// pattern, not the raw URL.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGoogleAPIOperation records a call to a Google API.
//
// Parameters:
//   - service: ServiceGmail or ServiceOAuth2
//   - operation: send, list, get, userinfo, tokeninfo, exchange
//   - status: StatusSuccess or StatusError
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLogin records a Google sign-in with one of the LoginResult values.
func (m *Metrics) RecordLogin(ctx context.Context, result string) {
	if m == nil || m.loginTotal == nil {
		return
	}
	m.loginTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records a refresh with one of the RefreshResult values.
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}
	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordDeliveryAttempt records one transport attempt. attempt is 1 for the
// first try and 2 for the retry after a refresh.
func (m *Metrics) RecordDeliveryAttempt(ctx context.Context, transport string, attempt int, status string, duration time.Duration) {
	if m == nil || m.deliveryAttemptsTotal == nil || m.deliveryDuration == nil {
		return
	}

	m.deliveryAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrTransport, transport),
		attribute.String(attrAttempt, strconv.Itoa(attempt)),
		attribute.String(attrStatus, status),
	))
	m.deliveryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrTransport, transport),
		attribute.String(attrStatus, status),
	))
}

// RecordDispatch records the outcome of a send or reply request. kind is
// empty on success. recipientEmail is reduced to its domain and only
// attached when detailed labels are enabled.
func (m *Metrics) RecordDispatch(ctx context.Context, operation, channel, kind, recipientEmail string) {
	if m == nil || m.dispatchTotal == nil {
		return
	}

	status := StatusSuccess
	if kind != "" {
		status = StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrChannel, channel),
		attribute.String(attrStatus, status),
		attribute.String(attrKind, kind),
	}
	if m.detailedLabels && recipientEmail != "" {
		attrs = append(attrs, attribute.String(attrRecipientDomain, ExtractUserDomain(recipientEmail)))
	}

	m.dispatchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventPublished records a lifecycle event publish.
func (m *Metrics) RecordEventPublished(ctx context.Context, event, status string) {
	if m == nil || m.eventsPublishedTotal == nil {
		return
	}
	m.eventsPublishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrEvent, event),
		attribute.String(attrStatus, status),
	))
}

// RecordToolInvocation records an MCP tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
