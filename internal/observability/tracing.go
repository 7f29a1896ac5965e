package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span this package
// starts.
const tracerName = "github.com/helixir/article-harvester"

// NewTracerProvider builds an SDK TracerProvider sampling at sampleRate,
// tagged with serviceName. Callers are responsible for registering an
// exporter-backed SpanProcessor via opts and calling Shutdown on the
// returned provider at process exit.
func NewTracerProvider(serviceName string, sampleRate float64, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	allOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		sdktrace.WithResource(res),
	}, opts...)
	return sdktrace.NewTracerProvider(allOpts...)
}

// StartEntrySpan starts a span covering one Entry's full pass through
// the Orchestrator's state machine, tagged with its id and known DOI.
func StartEntrySpan(ctx context.Context, entryID, doi string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "entry.process",
		trace.WithAttributes(
			attribute.String("entry_id", entryID),
			attribute.String("doi", doi),
		),
	)
	return ctx, span
}

// StartStageSpan starts a child span for one stage execution attempt
// within an Entry's span.
func StartStageSpan(ctx context.Context, stage string, attempt int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.Int("attempt", attempt),
		),
	)
	return ctx, span
}

// RecordStageOutcome annotates span with the stage's outcome and ends
// it. err is nil on success.
func RecordStageOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
	} else {
		span.SetAttributes(attribute.Bool("success", true))
	}
	span.End()
}
