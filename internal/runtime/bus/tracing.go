package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

const (
	tracerName      = "github.com/drblury/relay/bus"
	respondSpanName = "relay.respond"
)

func newTracer(enabled bool, provider trace.TracerProvider) trace.Tracer {
	if !enabled {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(tracerName)
}

// startRespondSpan opens the span wrapping one responder invocation.
func (b *Bus) startRespondSpan(ctx context.Context, req modelpkg.Envelope, returnChannel string) (context.Context, trace.Span) {
	ctx, span := b.tracer.Start(ctx, respondSpanName, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("relay.channel", req.Channel),
		attribute.String("relay.return_channel", returnChannel),
		attribute.String("relay.request_id", req.ID.String()),
	)
	if from := req.Metadata.Get(metadatapkg.KeyFrom); from != "" {
		span.SetAttributes(attribute.String("relay.from", from))
	}
	return ctx, span
}

func endSpanWithError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
