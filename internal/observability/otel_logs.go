// Package observability provides OpenTelemetry Logs integration.
package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelLogsConfig contains configuration for OpenTelemetry Logs.
type OTelLogsConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool
	Headers     map[string]string
}

// DefaultOTelLogsConfig returns sensible defaults.
func DefaultOTelLogsConfig() OTelLogsConfig {
	return OTelLogsConfig{
		Enabled:     os.Getenv("REFLEX_OTEL_LOGS_ENABLED") == "true",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"),
		ServiceName: "reflex",
		Insecure:    true,
		Headers:     make(map[string]string),
	}
}

// OTelLogsProvider wraps the OpenTelemetry logger provider.
type OTelLogsProvider struct {
	provider *sdklog.LoggerProvider
	logger   log.Logger
}

// InitOTelLogs initializes OpenTelemetry Logs.
func InitOTelLogs(ctx context.Context, cfg OTelLogsConfig) (*OTelLogsProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := createHTTPLogExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	global.SetLoggerProvider(provider)
	logger := provider.Logger(TracerName)

	return &OTelLogsProvider{
		provider: provider,
		logger:   logger,
	}, nil
}

// Logger returns the logger instance.
func (o *OTelLogsProvider) Logger() log.Logger {
	return o.logger
}

// Shutdown gracefully shuts down the logger provider.
func (o *OTelLogsProvider) Shutdown(ctx context.Context) error {
	if o == nil || o.provider == nil {
		return nil
	}
	return o.provider.Shutdown(ctx)
}

// createHTTPLogExporter creates an OTLP HTTP log exporter.
func createHTTPLogExporter(ctx context.Context, cfg OTelLogsConfig) (sdklog.Exporter, error) {
	opts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
	}
	return otlploghttp.New(ctx, opts...)
}

// EmitSecurityEvent emits a log record for a blocked or flagged verdict,
// correlated with the active trace span.
func (o *OTelLogsProvider) EmitSecurityEvent(ctx context.Context, requestID, status, reason string, matchCount int) {
	if o == nil || o.provider == nil {
		return
	}

	severity := log.SeverityWarn
	if status == "blocked" {
		severity = log.SeverityError
	}

	record := log.Record{}
	record.SetTimestamp(time.Now())
	record.SetSeverity(severity)
	record.SetBody(log.StringValue("reflex.verdict"))
	record.AddAttributes(
		log.String("reflex.request_id", requestID),
		log.String("reflex.status", status),
		log.String("reflex.reason", reason),
		log.Int("reflex.match_count", matchCount),
	)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		record.AddAttributes(
			log.String("trace_id", span.SpanContext().TraceID().String()),
			log.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	o.logger.Emit(ctx, record)
}
