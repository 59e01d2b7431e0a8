// Package observability provides OpenTelemetry Metrics integration.
package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// OTelMetricsConfig contains configuration for OpenTelemetry Metrics.
type OTelMetricsConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool
	Headers     map[string]string
	// ExportInterval is the interval between metric exports
	ExportInterval time.Duration
}

// DefaultOTelMetricsConfig returns sensible defaults.
func DefaultOTelMetricsConfig() OTelMetricsConfig {
	return OTelMetricsConfig{
		Enabled:        os.Getenv("REFLEX_OTEL_METRICS_ENABLED") == "true",
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		ServiceName:    "reflex",
		Insecure:       true,
		Headers:        make(map[string]string),
		ExportInterval: 30 * time.Second,
	}
}

// OTelMetricsProvider wraps the OpenTelemetry meter provider.
type OTelMetricsProvider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	stageDuration metric.Float64Histogram
	verdictCount  metric.Int64Counter
	matchCount    metric.Int64Counter
}

// InitOTelMetrics initializes OpenTelemetry Metrics.
func InitOTelMetrics(ctx context.Context, cfg OTelMetricsConfig) (*OTelMetricsProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := createHTTPMetricExporter(ctx, cfg)
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

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval)),
		),
	)

	otel.SetMeterProvider(provider)
	meter := provider.Meter(TracerName)

	omp := &OTelMetricsProvider{
		provider: provider,
		meter:    meter,
	}

	if err := omp.initMetrics(); err != nil {
		return nil, err
	}

	return omp, nil
}

func (o *OTelMetricsProvider) initMetrics() error {
	var err error

	o.stageDuration, err = o.meter.Float64Histogram(
		"reflex.stage.duration",
		metric.WithDescription("Duration of a single pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.verdictCount, err = o.meter.Int64Counter(
		"reflex.verdict.count",
		metric.WithDescription("Number of verdicts issued, by status"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return err
	}

	o.matchCount, err = o.meter.Int64Counter(
		"reflex.match.count",
		metric.WithDescription("Number of detector matches, by detector and type"),
		metric.WithUnit("{match}"),
	)
	return err
}

// RecordStage records the duration of a pipeline stage.
func (o *OTelMetricsProvider) RecordStage(ctx context.Context, stage string, duration time.Duration, ok bool) {
	if o == nil {
		return
	}
	o.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("reflex.stage", stage),
		attribute.Bool("reflex.ok", ok),
	))
}

// RecordVerdict records a final verdict.
func (o *OTelMetricsProvider) RecordVerdict(ctx context.Context, status string, namespace string) {
	if o == nil {
		return
	}
	o.verdictCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reflex.status", status),
		attribute.String("reflex.namespace", namespace),
	))
}

// RecordMatch records a detector match.
func (o *OTelMetricsProvider) RecordMatch(ctx context.Context, detector, matchType string) {
	if o == nil {
		return
	}
	o.matchCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reflex.detector", detector),
		attribute.String("reflex.match_type", matchType),
	))
}

// Shutdown gracefully shuts down the metrics provider.
func (o *OTelMetricsProvider) Shutdown(ctx context.Context) error {
	if o == nil || o.provider == nil {
		return nil
	}
	return o.provider.Shutdown(ctx)
}

// createHTTPMetricExporter creates an OTLP HTTP metric exporter.
func createHTTPMetricExporter(ctx context.Context, cfg OTelMetricsConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return otlpmetrichttp.New(ctx, opts...)
}
