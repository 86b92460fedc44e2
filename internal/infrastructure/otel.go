package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"kpiledger/internal/config"
)

// MeterName is the instrumentation scope of every kpiledger metric.
const MeterName = "kpiledger"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up the tracer and meter providers described by cfg.
// Disabled signals fall back to no-op implementations so callers never
// need nil checks.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	ctx := context.Background()
	if logger == nil {
		logger = slog.Default()
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", instanceID()),
	)

	providers := &OTelProviders{
		Logger: logger,
		Tracer: otel.Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
	}

	if cfg.TracingEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	}

	if cfg.MetricsEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(mp)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		providers.PrometheusHTTP = promhttp.Handler()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.Bool("tracing_enabled", cfg.TracingEnabled),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled))

	return providers, nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// BusinessMetrics holds the kpiledger instruments
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	UploadsTotal     metric.Int64Counter
	UploadDuration   metric.Float64Histogram
	StagesMerged     metric.Int64Counter
	RowErrors        metric.Int64Counter
	IntegrityWarning metric.Int64Counter

	StoreOperationDuration metric.Float64Histogram
	StoreErrors            metric.Int64Counter

	WebSocketClients metric.Int64UpDownCounter
}

// CreateBusinessMetrics registers every instrument on meter
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	m := &BusinessMetrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.UploadsTotal, err = meter.Int64Counter(
		"kpi_uploads_total",
		metric.WithDescription("Workbook uploads by result"),
	); err != nil {
		return nil, err
	}
	if m.UploadDuration, err = meter.Float64Histogram(
		"kpi_upload_duration_seconds",
		metric.WithDescription("Time to parse and reconcile one upload"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.StagesMerged, err = meter.Int64Counter(
		"kpi_stages_merged_total",
		metric.WithDescription("Stage records merged by outcome"),
	); err != nil {
		return nil, err
	}
	if m.RowErrors, err = meter.Int64Counter(
		"kpi_row_errors_total",
		metric.WithDescription("Rows skipped by error kind"),
	); err != nil {
		return nil, err
	}
	if m.IntegrityWarning, err = meter.Int64Counter(
		"kpi_integrity_warnings_total",
		metric.WithDescription("Data integrity warnings raised during merges"),
	); err != nil {
		return nil, err
	}

	if m.StoreOperationDuration, err = meter.Float64Histogram(
		"kpi_store_operation_duration_seconds",
		metric.WithDescription("Job store call latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.StoreErrors, err = meter.Int64Counter(
		"kpi_store_errors_total",
		metric.WithDescription("Failed job store calls"),
	); err != nil {
		return nil, err
	}

	if m.WebSocketClients, err = meter.Int64UpDownCounter(
		"kpi_websocket_clients",
		metric.WithDescription("Connected WebSocket clients"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// UploadResult summarizes one upload for metric recording
type UploadResult struct {
	Status      string
	Inserted    int
	Overwritten int
	NoOps       int
	RowErrors   map[string]int
	Warnings    int
	Duration    time.Duration
}

// RecordUpload records the counters of one upload
func (m *BusinessMetrics) RecordUpload(ctx context.Context, r UploadResult) {
	if m == nil {
		return
	}
	m.UploadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", r.Status)))
	m.UploadDuration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(attribute.String("status", r.Status)))

	for outcome, n := range map[string]int{"insert": r.Inserted, "overwrite": r.Overwritten, "noop": r.NoOps} {
		if n > 0 {
			m.StagesMerged.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
	for kind, n := range r.RowErrors {
		m.RowErrors.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
	if r.Warnings > 0 {
		m.IntegrityWarning.Add(ctx, int64(r.Warnings))
	}
}

// RecordStoreOperation records the latency and outcome of one store call
func (m *BusinessMetrics) RecordStoreOperation(ctx context.Context, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
		m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
	m.StoreOperationDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// TraceIDFromContext extracts trace ID from context for logging correlation
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}
