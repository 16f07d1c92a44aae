// Package instrumentation provides OpenTelemetry metrics, tracing and the
// dispatch audit log for the outreach service.
//
// # Metrics
//
// HTTP:
//   - http_requests_total, http_request_duration_seconds by method, route and status
//
// Google:
//   - google_api_operations_total, google_api_operation_duration_seconds by service and operation
//   - oauth_login_total by result
//   - oauth_token_refresh_total by result (success, failure, no_refresh_token)
//
// Mail:
//   - mail_delivery_attempts_total, mail_delivery_duration_seconds by transport, attempt and status
//   - mail_dispatch_total by operation, channel and error kind
//   - mail_events_published_total by event and status
//
// MCP:
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds by tool and status
//
// Recipient domains are only attached to mail_dispatch_total when
// METRICS_DETAILED_LABELS is set.
//
// # Tracing
//
// Spans are created for tool calls (tool.<name>), Google calls
// (google.<service>.<operation>) and every delivery attempt (mail.deliver).
//
// # Configuration
//
// LoadConfig reads INSTRUMENTATION_ENABLED, METRICS_EXPORTER,
// TRACING_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_SAMPLER_ARG,
// OTEL_SERVICE_NAME and the AUDIT_LOGGING_* variables over DefaultConfig.
//
//	cfg, err := instrumentation.LoadConfig()
//	if err != nil {
//		return err
//	}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordDeliveryAttempt(ctx, instrumentation.TransportAPI, 1, instrumentation.StatusSuccess, time.Since(start))
package instrumentation
