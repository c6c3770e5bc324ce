package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "nutrichat"

// Version is reported as the service version of every span and metric.
var Version = "dev"

func rotatingFile(logDir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(logDir, name),
		MaxSize:    10, // 10 MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes structured logging with rotation.
// The returned close func flushes and closes the log file.
func InitLogger(logDir string, debug bool) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := rotatingFile(logDir, "nutrichat.log")

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// Log only to file, the terminal belongs to the chat
	handler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With("service", serviceName)
	slog.SetDefault(logger)

	return logger, logFile.Close, nil
}

// Options selects what InitTelemetry exports.
type Options struct {
	LogDir string
	// MetricsInterval is the export period of the metric reader.
	// Zero means 10 seconds.
	MetricsInterval time.Duration
	// Disabled returns no-op providers and opens no files.
	Disabled bool
}

// Files written to the log directory when telemetry is enabled.
const (
	TracesFile  = "nutrichat_traces.log"
	MetricsFile = "nutrichat_metrics.log"
)

// InitTelemetry initializes OpenTelemetry tracing and metrics.
// Traces go to <LogDir>/nutrichat_traces.log and metrics to
// <LogDir>/nutrichat_metrics.log once per MetricsInterval.
// The returned cleanup flushes both providers and closes the files.
func InitTelemetry(ctx context.Context, opts Options) (trace.Tracer, metric.Meter, func(), error) {
	if opts.Disabled {
		return tracenoop.NewTracerProvider().Tracer(serviceName),
			metricnoop.NewMeterProvider().Meter(serviceName),
			func() {}, nil
	}

	interval := opts.MetricsInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	if interval < 0 {
		return nil, nil, nil, fmt.Errorf("metrics interval must be positive, got %s", interval)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	tp, traceFile, err := newTracerProvider(res, opts.LogDir)
	if err != nil {
		return nil, nil, nil, err
	}

	mp, metricsFile, err := newMeterProvider(res, opts.LogDir, interval)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = traceFile.Close()
		return nil, nil, nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown meter provider", "error", err)
		}
		for _, f := range []*lumberjack.Logger{traceFile, metricsFile} {
			if err := f.Close(); err != nil {
				slog.Error("failed to close telemetry file", "file", f.Filename, "error", err)
			}
		}
	}

	return tp.Tracer(serviceName), mp.Meter(serviceName), cleanup, nil
}

func newTracerProvider(res *resource.Resource, logDir string) (*sdktrace.TracerProvider, *lumberjack.Logger, error) {
	f := rotatingFile(logDir, TracesFile)
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(f),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), f, nil
}

func newMeterProvider(res *resource.Resource, logDir string, interval time.Duration) (*sdkmetric.MeterProvider, *lumberjack.Logger, error) {
	f := rotatingFile(logDir, MetricsFile)
	exp, err := stdoutmetric.New(
		stdoutmetric.WithWriter(f),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	), f, nil
}
