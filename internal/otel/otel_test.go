package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	builtin "github.com/hanpama/dtopipe/internal/builtin"
	chain "github.com/hanpama/dtopipe/internal/chain"
	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	events "github.com/hanpama/dtopipe/internal/events"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	processor "github.com/hanpama/dtopipe/internal/processor"
)

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func setup(t *testing.T) (*tracetest.SpanRecorder, *processor.Processor) {
	t.Helper()
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(Attach(bus, tp.Tracer(TracerName)))

	p, err := processor.New(
		processor.WithCompilerOptions(builtin.Options()...),
		processor.WithSchemas(
			&processor.Schema{Name: "user", Fields: []processor.FieldSpec{
				{Name: "age", Inbound: []chain.Declaration{chain.Cast("int")}},
				{Name: "address", Inbound: []chain.Declaration{chain.CastWith([]any{"address"}, processor.NestedClass)}},
			}},
			&processor.Schema{Name: "address", Fields: []processor.FieldSpec{
				{Name: "city", Inbound: []chain.Declaration{chain.Validate("required")}},
			}},
		),
	)
	require.NoError(t, err)
	return sr, p
}

func TestNestedRecordSpans(t *testing.T) {
	sr, p := setup(t)

	rec := processor.NewRecord(processor.WithMode(execctx.CollectNull))
	require.NoError(t, p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{
		"age":     "x",
		"address": map[string]any{"city": ""},
	}))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	inner, outer := spans[0], spans[1]
	require.Equal(t, "record.inbound", outer.Name())
	require.Equal(t, "address", attr(inner, "dtopipe.schema").AsString())
	require.Equal(t, "user", attr(outer, "dtopipe.schema").AsString())
	require.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	require.Equal(t, attr(outer, "dtopipe.flow"), attr(inner, "dtopipe.flow"))

	require.Equal(t, int64(1), attr(inner, "dtopipe.failures").AsInt64())
	require.Equal(t, int64(2), attr(outer, "dtopipe.failures").AsInt64(), "inner failures merge into the outer frame")
	require.Len(t, outer.Events(), 1)
	require.Equal(t, "field.failure", outer.Events()[0].Name)
}

func TestFailedRecordSpan(t *testing.T) {
	sr, p := setup(t)

	err := p.Process(context.Background(), processor.NewRecord(), "user", chain.Inbound, map[string]any{"age": "x"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, otelcodes.Error, spans[0].Status().Code)
	require.Equal(t, "fail-fast", attr(spans[0], "dtopipe.error_mode").AsString())
}

func TestDetach(t *testing.T) {
	bus := eventbus.New()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	detach := Attach(bus, tp.Tracer(TracerName))
	require.Equal(t, 1, eventbus.Len[events.RecordStart](bus))
	detach()
	require.Zero(t, eventbus.Len[events.RecordStart](bus))
	require.Zero(t, eventbus.Len[events.RecordFinish](bus))
	require.Empty(t, sr.Ended())
}

func TestSetupWithoutEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t)
	shutdown, err := Setup(context.Background(), eventbus.New(), "", "dtopipe")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
