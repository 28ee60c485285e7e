package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/anther/extension"
)

const instrumentationName = "github.com/petal-labs/anther"

// SetupConfig controls telemetry export.
type SetupConfig struct {
	// ServiceName identifies this process in exported telemetry.
	ServiceName string
	// Endpoint is the OTLP/HTTP collector endpoint (host:port). Empty
	// disables span export; metrics stay in-process either way until a
	// reader is attached.
	Endpoint string
	// Insecure sends OTLP over plain HTTP.
	Insecure bool
}

// Providers bundles the SDK providers created by Setup so the caller can
// shut them down on exit.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Setup builds tracer and meter providers, registers them globally, and
// installs an ExtensionObserver as the process-wide extension observer.
func Setup(ctx context.Context, cfg SetupConfig) (*Providers, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "anther"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	traceOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exporterOptions := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOptions = append(exporterOptions, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOptions...)
		if err != nil {
			return nil, err
		}
		traceOptions = append(traceOptions, sdktrace.WithBatcher(exporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOptions...)
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	observer, err := NewExtensionObserver(
		meterProvider.Meter(instrumentationName),
		tracerProvider.Tracer(instrumentationName),
	)
	if err != nil {
		shutdownCtx := context.Background()
		_ = tracerProvider.Shutdown(shutdownCtx)
		_ = meterProvider.Shutdown(shutdownCtx)
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	extension.SetObserver(observer)

	return &Providers{TracerProvider: tracerProvider, MeterProvider: meterProvider}, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
