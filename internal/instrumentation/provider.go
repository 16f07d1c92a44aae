package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the OpenTelemetry meter and tracer providers and the
// Metrics recorder built on them.
type Provider struct {
	config         Config
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *Metrics
	enabled        bool
}

// NewProvider builds the providers described by config and installs them
// globally. A disabled config yields a provider with a no-op recorder.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if !config.Enabled {
		return &Provider{config: config, metrics: &Metrics{}}, nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(config)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	reader, err := newMetricReader(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}
	p := &Provider{
		config:        config,
		enabled:       true,
		meterProvider: metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader)),
	}

	p.tracerProvider, err = newTracerProvider(ctx, config, res)
	if err != nil {
		if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	otel.SetMeterProvider(p.meterProvider)
	otel.SetTracerProvider(p.tracerProvider)

	p.metrics, err = NewMetrics(p.meterProvider.Meter(config.ServiceName), config.DetailedLabels)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}
	return p, nil
}

func resourceAttributes(config Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}

	instance := config.ServiceInstanceID
	if instance == "" {
		instance, _ = os.Hostname()
	}
	if instance != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(instance))
	}

	if config.K8sNamespace != "" {
		attrs = append(attrs, semconv.K8SNamespaceName(config.K8sNamespace))
	}
	if config.K8sPodName != "" {
		attrs = append(attrs, semconv.K8SPodName(config.K8sPodName))
	}
	return attrs
}

// newMetricReader returns the reader for the configured exporter. The
// Prometheus exporter registers on the default registry that the metrics
// listener serves.
func newMetricReader(ctx context.Context, config Config) (metric.Reader, error) {
	switch config.MetricsExporter {
	case ExporterPrometheus:
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		return exporter, nil

	case ExporterOTLP:
		if config.OTLPEndpoint == "" {
			return nil, errors.New("OTLP endpoint is required for the OTLP metrics exporter, set OTEL_EXPORTER_OTLP_ENDPOINT or use prometheus")
		}
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(config.OTLPEndpoint)}
		if config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return metric.NewPeriodicReader(exporter), nil

	case ExporterStdout:
		slog.Warn("stdout metrics exporter enabled, use for local debugging only",
			slog.String("component", "instrumentation"))
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return metric.NewPeriodicReader(exporter), nil
	}
	return nil, fmt.Errorf("unsupported metrics exporter: %s", config.MetricsExporter)
}

// newTracerProvider samples parent-based at TraceSamplingRate. With the
// "none" exporter spans are created but never sampled.
func newTracerProvider(ctx context.Context, config Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter

	switch config.TracingExporter {
	case ExporterNone:
		return sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		), nil

	case ExporterOTLP:
		if config.OTLPEndpoint == "" {
			return nil, errors.New("OTLP endpoint is required for the OTLP tracing exporter")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
		if config.OTLPInsecure {
			slog.Warn("OTLP traces sent without TLS",
				slog.String("component", "instrumentation"),
				slog.String("endpoint", config.OTLPEndpoint))
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		otlp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		exporter = otlp

	case ExporterStdout:
		slog.Warn("stdout trace exporter enabled, use for local debugging only",
			slog.String("component", "instrumentation"))
		stdout, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		exporter = stdout

	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", config.TracingExporter)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.TraceSamplingRate))),
	), nil
}

// Metrics returns the recorder. It is never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Tracer returns a named tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.enabled || p.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// Shutdown flushes pending telemetry and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	var errs []error
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AuditConfig returns the audit logging settings.
func (p *Provider) AuditConfig() AuditLoggingConfig {
	return p.config.AuditLogging
}

// Enabled reports whether instrumentation is active.
func (p *Provider) Enabled() bool {
	return p.enabled
}
