// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unrecognized exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter type")
)

// TelemetryConfig controls tracing and OTel metrics export.
type TelemetryConfig struct {
	// ServiceName identifies this service in traces and metrics.
	ServiceName string

	// ServiceVersion is the version string for this service.
	ServiceVersion string

	// TraceExporter selects the trace exporter: "otlp", "stdout", or "none".
	TraceExporter string

	// MetricExporter selects the OTel metric exporter: "prometheus",
	// "stdout", or "none".
	MetricExporter string

	// OTLPEndpoint is the collector's gRPC address, e.g. otel-collector:4317.
	OTLPEndpoint string

	// SampleRate is the fraction of traces sampled, 0.0 to 1.0.
	SampleRate float64
}

// DefaultTelemetryConfig returns defaults for a local deployment.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName:    "profrag",
		ServiceVersion: "dev",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
	}
}

// InitTelemetry sets up the global TracerProvider, MeterProvider and
// propagator.
//
// # Description
//
// After InitTelemetry returns, otel.Tracer and otel.Meter use the configured
// exporters. The "prometheus" metric exporter registers with the default
// Prometheus registry, so OTel instruments appear on the same /metrics page
// as StreamingMetrics.
//
// # Outputs
//
//   - shutdown: Flushes and stops the providers. Must be called on exit.
//   - error: Unknown exporter or exporter construction failure.
//
// # Example
//
//	shutdown, err := observability.InitTelemetry(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	)

	if cfg.TraceExporter != "" && cfg.TraceExporter != "none" {
		tp, err := initTracer(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.MetricExporter != "" && cfg.MetricExporter != "none" {
		mp, err := initMeter(cfg, res)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}

	slog.Info("Telemetry initialized",
		"trace_exporter", cfg.TraceExporter,
		"metric_exporter", cfg.MetricExporter)
	return shutdown, nil
}

// initTracer creates a TracerProvider for the configured exporter.
func initTracer(ctx context.Context, cfg TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter

	switch cfg.TraceExporter {
	case "otlp":
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

	case "stdout":
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(getSampler(cfg.SampleRate)),
	), nil
}

// initMeter creates a MeterProvider for the configured exporter.
func initMeter(cfg TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// getSampler maps a sample rate to a sampler.
func getSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// LoggerWithTrace adds trace_id and span_id from ctx to logger so log lines
// can be joined with traces.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// stageAttr is shared by span and metric attributes for pipeline stages.
func stageAttr(stage string) attribute.KeyValue {
	return attribute.String("stage", stage)
}
