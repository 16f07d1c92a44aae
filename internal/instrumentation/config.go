package instrumentation

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the OpenTelemetry settings for the outreach service. The env
// tags are read by LoadConfig on top of DefaultConfig.
type Config struct {
	ServiceName       string `env:"OTEL_SERVICE_NAME"`
	ServiceVersion    string
	ServiceInstanceID string `env:"OTEL_SERVICE_INSTANCE_ID"`

	// Environment is reported as deployment.environment (local, dev, prod).
	Environment string `env:"ENV"`

	K8sNamespace string `env:"K8S_NAMESPACE,POD_NAMESPACE"`
	K8sPodName   string `env:"K8S_POD_NAME,HOSTNAME"`

	// Enabled turns metrics and tracing on.
	Enabled bool `env:"INSTRUMENTATION_ENABLED"`

	// MetricsExporter is one of "prometheus", "otlp" or "stdout".
	MetricsExporter string `env:"METRICS_EXPORTER"`
	// TracingExporter is one of "otlp", "stdout" or "none".
	TracingExporter string `env:"TRACING_EXPORTER"`

	// OTLPEndpoint is host:port without a scheme.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS towards the collector. Local use only.
	OTLPInsecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE"`

	TraceSamplingRate  float64 `env:"OTEL_TRACES_SAMPLER_ARG"`
	PrometheusEndpoint string  `env:"PROMETHEUS_ENDPOINT"`

	// DetailedLabels adds recipient domains to dispatch metrics.
	// Keep it off in production.
	DetailedLabels bool `env:"METRICS_DETAILED_LABELS"`

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig controls the dispatch audit trail.
type AuditLoggingConfig struct {
	Enabled bool `env:"AUDIT_LOGGING_ENABLED"`

	// IncludePII logs full sender and recipient addresses instead of
	// anonymized hashes. Audit sinks must be access controlled when set.
	IncludePII bool `env:"AUDIT_LOGGING_INCLUDE_PII"`

	LogLevel string `env:"AUDIT_LOGGING_LEVEL"`
}

// DefaultConfig returns the settings used when no variable is set.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "outreach",
		ServiceVersion:     "unknown",
		Environment:        "local",
		Enabled:            true,
		MetricsExporter:    ExporterPrometheus,
		TracingExporter:    ExporterNone,
		TraceSamplingRate:  0.1,
		PrometheusEndpoint: "/metrics",
		AuditLogging: AuditLoggingConfig{
			Enabled:  true,
			LogLevel: "info",
		},
	}
}

// LoadConfig overlays the environment on DefaultConfig and validates the
// result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read instrumentation env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks exporter names, the sampling ratio and OTLP requirements.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}
	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" {
		if c.TracingExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP tracing exporter")
		}
		if c.MetricsExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP metrics exporter")
		}
	}
	return nil
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	// Token refresh results.
	RefreshResultSuccess   = "success"
	RefreshResultFailure   = "failure"
	RefreshResultNoToken   = "no_refresh_token"
	RefreshResultCoalesced = "coalesced"

	// Login results.
	LoginResultSuccess  = "success"
	LoginResultFailure  = "failure"
	LoginResultRejected = "rejected"

	// Google services called by the dispatcher.
	ServiceGmail  = "gmail"
	ServiceOAuth2 = "oauth2"

	// Delivery transports.
	TransportAPI  = "api"
	TransportSMTP = "smtp"

	// Dispatch channels.
	ChannelHTTP = "http"
	ChannelMCP  = "mcp"

	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"

	DefaultMetricInterval = 10 * time.Second
)
