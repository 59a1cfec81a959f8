package tracing

import (
	"context"

	"github.com/smallbiznis/lumora/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability.tracing",
	fx.Provide(NewTracerProvider),
	fx.Invoke(register),
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// NewTracerProvider builds an OTLP/HTTP tracer provider, or a no-op
// provider when tracing is disabled.
func NewTracerProvider(p Params) (*sdktrace.TracerProvider, error) {
	if !p.Cfg.Tracing.Enabled {
		return sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.NeverSample()),
		), nil
	}

	opts := []otlptracehttp.Option{}
	if endpoint := p.Cfg.Tracing.ExporterEndpoint; endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(p.Cfg.ServiceName),
		semconv.ServiceVersion(p.Cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(p.Cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	ratio := p.Cfg.Tracing.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	p.Log.Info("tracing enabled", zap.String("endpoint", p.Cfg.Tracing.ExporterEndpoint))
	return provider, nil
}

func register(lc fx.Lifecycle, provider *sdktrace.TracerProvider) {
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
}
