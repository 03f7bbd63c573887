package observe_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxsml/goroute/component/mock"
	"github.com/fxsml/goroute/errorhandler"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/observe"
	"github.com/fxsml/goroute/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func failing(kind func(error) error) route.Step {
	return route.ProcessFunc(func(context.Context, *exchange.Exchange) error {
		return kind(assert.AnError)
	})
}

func start(t *testing.T, interceptors []route.Interceptor) *route.Context {
	t.Helper()
	rc := route.NewContext(route.Config{Interceptors: interceptors})
	require.NoError(t, rc.AddComponent(mock.Scheme, mock.NewComponent()))
	require.NoError(t, rc.AddRoutes(
		route.From("direct:ok", route.To("mock:out")).WithID("ok"),
		route.From("direct:fail", failing(exchange.Permanent)).WithID("fail"),
		route.From("direct:dead", failing(exchange.Transient)).WithID("dead").
			WithErrorHandler(route.ErrorHandler{
				Policy:        errorhandler.RedeliveryPolicy{MaximumRedeliveries: 2},
				DeadLetterURI: "mock:dead",
			}),
	))
	require.NoError(t, rc.Start(context.Background()))
	t.Cleanup(func() { _ = rc.Stop(context.Background()) })
	return rc
}

func sendAll(t *testing.T, rc *route.Context) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rc.SendBody(ctx, "direct:ok", "a", nil))
	require.NoError(t, rc.SendBody(ctx, "direct:ok", "b", nil))
	require.Error(t, rc.SendBody(ctx, "direct:fail", "c", nil))
	require.NoError(t, rc.SendBody(ctx, "direct:dead", "d", nil))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observe.NewMetrics(observe.MetricsConfig{Registry: reg})
	require.NoError(t, err)

	rc := start(t, []route.Interceptor{m.Intercept})
	sendAll(t, rc)

	expected := `
# HELP goroute_exchanges_total Number of exchanges that completed a route, by outcome.
# TYPE goroute_exchanges_total counter
goroute_exchanges_total{outcome="completed",route="ok"} 2
goroute_exchanges_total{outcome="failed",route="fail"} 1
goroute_exchanges_total{outcome="handled",route="dead"} 1
# HELP goroute_redeliveries_total Number of redelivery attempts.
# TYPE goroute_redeliveries_total counter
goroute_redeliveries_total{route="dead"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"goroute_exchanges_total", "goroute_redeliveries_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(reg, "goroute_exchange_duration_seconds"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "goroute_exchanges_in_flight")
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observe.NewMetrics(observe.MetricsConfig{Registry: reg})
	require.NoError(t, err)
	_, err = observe.NewMetrics(observe.MetricsConfig{Registry: reg})
	assert.Error(t, err)

	_, err = observe.NewMetrics(observe.MetricsConfig{Registry: reg, Namespace: "other"})
	assert.NoError(t, err)
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tr := observe.NewTracing(observe.TracingConfig{TracerProvider: tp})

	rc := start(t, []route.Interceptor{tr.Intercept})
	sendAll(t, rc)

	spans := map[string][]sdktrace.ReadOnlySpan{}
	require.Eventually(t, func() bool { return len(sr.Ended()) == 4 }, time.Second, time.Millisecond)
	for _, s := range sr.Ended() {
		spans[s.Name()] = append(spans[s.Name()], s)
	}

	require.Len(t, spans["route ok"], 2)
	ok := spans["route ok"][0]
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Contains(t, ok.Attributes(), attribute.String("goroute.outcome", observe.OutcomeCompleted))
	assert.Contains(t, ok.Attributes(), attribute.String("goroute.pattern", exchange.InOnly.String()))

	require.Len(t, spans["route fail"], 1)
	fail := spans["route fail"][0]
	assert.Equal(t, codes.Error, fail.Status().Code)
	assert.Contains(t, fail.Attributes(), attribute.String("goroute.error_kind", exchange.KindPermanent.String()))
	require.Len(t, fail.Events(), 1)
	assert.Equal(t, "exception", fail.Events()[0].Name)

	require.Len(t, spans["route dead"], 1)
	dead := spans["route dead"][0]
	assert.Equal(t, codes.Ok, dead.Status().Code)
	assert.Contains(t, dead.Attributes(), attribute.String("goroute.outcome", observe.OutcomeHandled))
	assert.Contains(t, dead.Attributes(), attribute.Int("goroute.redeliveries", 2))
}
