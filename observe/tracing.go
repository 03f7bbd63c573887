package observe

import (
	"context"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures Tracing.
type TracingConfig struct {
	// TracerProvider creates the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// Name is the instrumentation scope. Defaults to "github.com/fxsml/goroute".
	Name string
}

func (c TracingConfig) parse() TracingConfig {
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	if c.Name == "" {
		c.Name = "github.com/fxsml/goroute"
	}
	return c
}

// Tracing starts one span per exchange and route.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing creates the tracing interceptor.
func NewTracing(cfg TracingConfig) *Tracing {
	cfg = cfg.parse()
	return &Tracing{tracer: cfg.TracerProvider.Tracer(cfg.Name)}
}

// Intercept starts a span for the exchange and ends it when the exchange's
// Unit of Work completes. Steps receive the span's context.
func (t *Tracing) Intercept(routeID string, next processor.Processor) processor.Processor {
	return processor.AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
		ctx, span := t.tracer.Start(ctx, "route "+routeID,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("goroute.route", routeID),
				attribute.String("goroute.exchange_id", ex.ID()),
				attribute.String("goroute.pattern", ex.Pattern().String()),
			),
		)

		ex.AddSynchronization(exchange.SynchronizationFuncs{
			Complete: func(ex *exchange.Exchange) {
				span.SetAttributes(
					attribute.String("goroute.outcome", outcome(ex, false)),
					attribute.Int("goroute.redeliveries", redeliveries(ex)),
				)
				if caught, ok := ex.Property(exchange.PropertyExceptionCaught); ok {
					if err, ok := caught.(error); ok {
						span.RecordError(err)
					}
				}
				span.SetStatus(codes.Ok, "")
				span.End()
			},
			Failure: func(ex *exchange.Exchange) {
				span.SetAttributes(
					attribute.String("goroute.outcome", OutcomeFailed),
					attribute.String("goroute.error_kind", exchange.KindOf(ex.Err()).String()),
					attribute.Int("goroute.redeliveries", redeliveries(ex)),
				)
				if err := ex.Err(); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
			},
		})
		return next.Process(ctx, ex, done)
	})
}
