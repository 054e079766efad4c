package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lendingTracer = "fixedlend/lending"

// StartLendingSpan opens a span for a lending engine request. The returned
// finish function records err on the span and ends it.
func StartLendingSpan(ctx context.Context, operation, market string) (context.Context, func(err error)) {
	ctx, span := otel.Tracer(lendingTracer).Start(ctx, "lending."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("lending.operation", operation),
			attribute.String("lending.market", market),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
