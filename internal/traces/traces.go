// Package traces wraps OpenTelemetry for the assessment pipeline. Spans are
// no-ops until Init installs an OTLP exporter.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/mbd888/tokenrisk"

// Span attribute keys.
const (
	KeyAssessmentID = attribute.Key("assessment.id")
	KeyToken        = attribute.Key("token.address")
	KeyChain        = attribute.Key("token.chain")
	KeyProfile      = attribute.Key("profile.name")
	KeyProvider     = attribute.Key("provider.name")
	KeyTier         = attribute.Key("risk.tier")
)

// Init exports spans to the OTLP/gRPC collector at endpoint and returns the
// flush-and-stop function for shutdown. An empty endpoint leaves tracing off.
func Init(ctx context.Context, endpoint, version string, logger *slog.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Debug("tracing disabled, OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceName("tokenrisk"),
			semconv.ServiceVersion(version),
		)),
	)
	otel.SetTracerProvider(tp)
	// otelgin picks up incoming traceparent headers through this.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}

// StartSpan starts a span from the global provider. Callers must End it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

func AssessmentID(id string) attribute.KeyValue { return KeyAssessmentID.String(id) }
func Token(addr string) attribute.KeyValue      { return KeyToken.String(addr) }
func Chain(chain string) attribute.KeyValue     { return KeyChain.String(chain) }
func Profile(name string) attribute.KeyValue    { return KeyProfile.String(name) }
func Provider(name string) attribute.KeyValue   { return KeyProvider.String(name) }
func Tier(tier string) attribute.KeyValue       { return KeyTier.String(tier) }
