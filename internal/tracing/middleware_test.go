package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/syscore/internal/unit"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp
}

func TestWrapUnit_RecordsSpan(t *testing.T) {
	recorder, tp := newRecorder(t)
	ran := false
	inner := unit.Func(func(context.Context, *unit.Env) error {
		ran = true
		return nil
	})

	wrapped := WrapUnit(tp.Tracer("test"), unit.KindRender, inner)
	err := wrapped.Execute(context.Background(), unit.NewEnv("render", "worker-1", "run-1", nil, nil))
	require.NoError(t, err)
	require.True(t, ran)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "unit.render", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := attributeMap(spans[0].Attributes())
	require.Equal(t, "render", attrs[AttrUnitName])
	require.Equal(t, "render", attrs[AttrUnitKind])
	require.Equal(t, "worker-1", attrs[AttrWorkerID])
	require.Equal(t, "run-1", attrs[AttrRunID])
}

func TestWrapUnit_RecordsError(t *testing.T) {
	recorder, tp := newRecorder(t)
	boom := errors.New("boom")
	inner := unit.Func(func(context.Context, *unit.Env) error { return boom })

	err := WrapUnit(tp.Tracer("test"), unit.KindInput, inner).
		Execute(context.Background(), unit.NewEnv("input", "worker-2", "run-1", nil, nil))
	require.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "boom", spans[0].Status().Description)
}

func TestWrapUnit_NilTracer(t *testing.T) {
	inner := unit.Func(func(context.Context, *unit.Env) error { return nil })
	require.NotNil(t, WrapUnit(nil, unit.KindNoop, inner))
}
