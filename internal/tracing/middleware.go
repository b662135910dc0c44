package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/syscore/internal/unit"
)

// WrapUnit returns a unit that runs u inside a span named "unit.<name>".
// A nil tracer returns u unchanged.
func WrapUnit(tracer trace.Tracer, kind unit.Kind, u unit.Unit) unit.Unit {
	if tracer == nil {
		return u
	}
	return unit.Func(func(ctx context.Context, env *unit.Env) error {
		ctx, span := tracer.Start(ctx, SpanPrefixUnit+env.Name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String(AttrUnitName, env.Name),
				attribute.String(AttrUnitKind, string(kind)),
				attribute.String(AttrWorkerID, env.WorkerID),
				attribute.String(AttrRunID, env.RunID),
			),
		)
		defer span.End()

		err := u.Execute(ctx, env)
		RecordError(span, err)
		return err
	})
}

// RecordError marks span failed when err is non-nil, and OK otherwise.
func RecordError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
}
