// Package telemetry wires OpenTelemetry tracing for a run.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const ServiceName = "comply"

type Config struct {
	Endpoint       string
	ServiceVersion string
	Logger         *zap.Logger
}

// Telemetry holds the tracer used by the pipeline and the func that flushes it.
type Telemetry struct {
	Tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   *zap.Logger
}

// Setup installs a tracer provider. Spans are exported over OTLP/gRPC only
// when an endpoint is configured; otherwise they are recorded and dropped.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res := sdkresource.NewWithAttributes("",
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		logger.Info("tracing enabled", zap.String("endpoint", endpoint))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Telemetry{
		Tracer:   tp.Tracer(ServiceName),
		provider: tp,
		logger:   logger,
	}, nil
}

// Shutdown flushes pending spans. Errors are logged, not returned; a run
// never fails because its traces could not be exported.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil || t.provider == nil {
		return
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		t.logger.Warn("telemetry shutdown", zap.Error(err))
	}
}
