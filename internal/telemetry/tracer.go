package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	logx "rafflebot/pkg/logx"
)

// Provider is the installed tracer provider, or a no-op one when tracing is
// off.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Init installs a global tracer provider that writes spans as JSON to w.
// With enabled=false it returns a no-op provider and leaves the global alone.
func Init(enabled bool, serviceName string, w io.Writer, log logx.Logger) (*Provider, error) {
	if !enabled {
		return &Provider{tp: noop.NewTracerProvider(), shutdown: func(context.Context) error { return nil }}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Info("tracing initialized", logx.String("service", serviceName))
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

func (p *Provider) Tracer(name string) trace.Tracer { return p.tp.Tracer(name) }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }
