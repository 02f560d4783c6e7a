package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/entityflow/internal/eventbus"
	events "github.com/hanpama/entityflow/internal/events"
	reqid "github.com/hanpama/entityflow/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
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

	sub := newSubscriber(tp.Tracer("entityflow"))
	unsubscribe := sub.register()

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type stageKey struct {
	scope    any
	stage    string
	typename string
}

// subscriber turns start/finish event pairs into spans. Spans are nested
// http.request > entities.request > entities.<stage>, correlated by
// request scope. Events from a context without one are ignored.
type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // scope -> trace.Span
	reqSpans   sync.Map // scope -> trace.Span
	stageSpans sync.Map // stageKey -> trace.Span
}

func newSubscriber(t trace.Tracer) *subscriber { return &subscriber{tracer: t} }

func (s *subscriber) register() (unsubscribe func()) {
	subs := []func(){
		eventbus.Subscribe(s.onHTTPStart),
		eventbus.Subscribe(s.onHTTPFinish),
		eventbus.Subscribe(s.onEntitiesStart),
		eventbus.Subscribe(s.onEntitiesFinish),
		eventbus.Subscribe(s.onStageStart),
		eventbus.Subscribe(s.onStageFinish),
	}
	return func() {
		for _, u := range subs {
			u()
		}
	}
}

func (s *subscriber) onHTTPStart(ctx context.Context, e events.HTTPStart) {
	sc := reqid.Scope(ctx)
	if sc == nil {
		return
	}
	rid, _ := reqid.FromContext(ctx)
	_, span := s.tracer.Start(ctx, "http.request")
	span.SetAttributes(
		semconv.HTTPMethodKey.String(e.Request.Method),
		attribute.String("http.target", e.Request.URL.Path),
		attribute.String("http.request_id", rid),
	)
	s.httpSpans.Store(sc, span)
}

func (s *subscriber) onHTTPFinish(ctx context.Context, e events.HTTPFinish) {
	v, ok := s.httpSpans.LoadAndDelete(reqid.Scope(ctx))
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
	span.End()
}

func (s *subscriber) onEntitiesStart(ctx context.Context, e events.EntitiesStart) {
	sc := reqid.Scope(ctx)
	if sc == nil {
		return
	}
	parent := ctx
	if v, ok := s.httpSpans.Load(sc); ok {
		parent = trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	_, span := s.tracer.Start(parent, "entities.request")
	span.SetAttributes(
		attribute.String("graphql.operation.name", e.OperationName),
		attribute.Int("entity.representations", e.Representations),
	)
	s.reqSpans.Store(sc, span)
}

func (s *subscriber) onEntitiesFinish(ctx context.Context, e events.EntitiesFinish) {
	v, ok := s.reqSpans.LoadAndDelete(reqid.Scope(ctx))
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(
		attribute.Int("entity.unique", e.Stats.Unique),
		attribute.Int("entity.groups", e.Stats.Groups),
		attribute.Int("entity.malformed", e.Stats.Malformed),
		attribute.Float64("entity.dedup_ratio", e.Stats.DedupRatio()),
		attribute.Int("graphql.error_count", e.ErrorCount),
	)
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End()
}

func (s *subscriber) onStageStart(ctx context.Context, e events.StageStart) {
	sc := reqid.Scope(ctx)
	if sc == nil {
		return
	}
	parent := ctx
	if v, ok := s.reqSpans.Load(sc); ok {
		parent = trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	_, span := s.tracer.Start(parent, "entities."+string(e.Stage))
	if e.Typename != "" {
		span.SetAttributes(attribute.String("entity.typename", e.Typename))
	}
	s.stageSpans.Store(stageKey{sc, string(e.Stage), e.Typename}, span)
}

func (s *subscriber) onStageFinish(ctx context.Context, e events.StageFinish) {
	v, ok := s.stageSpans.LoadAndDelete(stageKey{reqid.Scope(ctx), string(e.Stage), e.Typename})
	if !ok {
		return
	}
	span := v.(trace.Span)
	for k, a := range e.Attrs {
		switch a := a.(type) {
		case int:
			span.SetAttributes(attribute.Int("entity."+k, a))
		case float64:
			span.SetAttributes(attribute.Float64("entity."+k, a))
		case string:
			span.SetAttributes(attribute.String("entity."+k, a))
		}
	}
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End()
}
