// Package tracing builds the OpenTelemetry tracer provider for the server.
//
// There is no collector in a single-process deployment, so finished spans
// go through the stdout exporter into the structured log.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName identifies this process in exported spans.
const ServiceName = "agentq"

// NewProvider returns a tracer provider that batches every span and logs it
// to logger at debug level once exported. Callers must Shutdown it on exit.
func NewProvider(logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(&logWriter{
		logger: logger.With("component", "tracing"),
	}))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
		)),
	), nil
}

// exportedSpan is the part of the exporter's JSON that goes into the log.
type exportedSpan struct {
	Name        string
	SpanContext struct {
		TraceID string
	}
	StartTime  time.Time
	EndTime    time.Time
	Attributes []struct {
		Key   string
		Value struct {
			Value any
		}
	}
	Status struct {
		Code        string
		Description string
	}
}

// logWriter receives one JSON document per span from the exporter.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	if !w.logger.Enabled(context.Background(), slog.LevelDebug) {
		return len(p), nil
	}

	var s exportedSpan
	if err := json.Unmarshal(p, &s); err != nil {
		w.logger.Debug("span ended", "raw", string(p))
		return len(p), nil
	}

	attrs := []any{
		"span", s.Name,
		"trace_id", s.SpanContext.TraceID,
		"duration", s.EndTime.Sub(s.StartTime).String(),
		"status", s.Status.Code,
	}
	if s.Status.Description != "" {
		attrs = append(attrs, "error", s.Status.Description)
	}
	for _, kv := range s.Attributes {
		attrs = append(attrs, kv.Key, kv.Value.Value)
	}
	w.logger.Debug("span ended", attrs...)
	return len(p), nil
}
