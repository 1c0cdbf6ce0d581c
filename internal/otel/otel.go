package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	events "github.com/hanpama/dtopipe/internal/events"
	flowid "github.com/hanpama/dtopipe/internal/flowid"
)

// TracerName is the instrumentation name of record spans.
const TracerName = "dtopipe"

// Setup configures OpenTelemetry and attaches eventbus subscribers to bus.
// If endpoint is empty, no telemetry is configured.
func Setup(ctx context.Context, bus *eventbus.Bus, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	detach := Attach(bus, tp.Tracer(TracerName))
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach opens a span for every record processed on bus. Spans of nested
// records are children of the enclosing record's span. The returned func
// removes the subscribers.
func Attach(bus *eventbus.Bus, tracer trace.Tracer) (detach func()) {
	s := &subscriber{tracer: tracer, open: map[string][]trace.Span{}}
	offs := []func(){
		eventbus.On(bus, s.start),
		eventbus.On(bus, s.fieldFailure),
		eventbus.On(bus, s.finish),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

type subscriber struct {
	tracer trace.Tracer
	mu     sync.Mutex
	open   map[string][]trace.Span // flow id -> spans, innermost last
}

func (s *subscriber) top(flow string) trace.Span {
	spans := s.open[flow]
	if len(spans) == 0 {
		return nil
	}
	return spans[len(spans)-1]
}

func (s *subscriber) start(ctx context.Context, e events.RecordStart) {
	flow, _ := flowid.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := ctx
	if span := s.top(flow); span != nil {
		parent = trace.ContextWithSpan(ctx, span)
	}
	_, span := s.tracer.Start(parent, "record."+e.Phase)
	span.SetAttributes(
		attribute.String("dtopipe.flow", flow),
		attribute.String("dtopipe.schema", e.Schema),
		attribute.String("dtopipe.phase", e.Phase),
		attribute.String("dtopipe.error_mode", e.Mode),
		attribute.Int("dtopipe.depth", e.Depth),
	)
	s.open[flow] = append(s.open[flow], span)
}

func (s *subscriber) fieldFailure(ctx context.Context, e events.FieldFailure) {
	flow, _ := flowid.FromContext(ctx)
	s.mu.Lock()
	span := s.top(flow)
	s.mu.Unlock()
	if span == nil {
		return
	}
	span.AddEvent("field.failure", trace.WithAttributes(
		attribute.String("dtopipe.field", e.Field),
		attribute.String("dtopipe.path", e.Path),
		attribute.String("dtopipe.template", e.Template),
		attribute.String("dtopipe.code", e.Code),
		attribute.Bool("dtopipe.collected", e.Collected),
	))
}

func (s *subscriber) finish(ctx context.Context, e events.RecordFinish) {
	flow, _ := flowid.FromContext(ctx)
	s.mu.Lock()
	span := s.top(flow)
	if span == nil {
		s.mu.Unlock()
		return
	}
	if spans := s.open[flow][:len(s.open[flow])-1]; len(spans) > 0 {
		s.open[flow] = spans
	} else {
		delete(s.open, flow)
	}
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("dtopipe.failures", e.Failures))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(otelcodes.Error, e.Err.Error())
	}
	span.End()
}
