// Package observe provides route interceptors that export exchange metrics
// to Prometheus and exchange spans to OpenTelemetry.
//
// Both record on completion of the exchange's Unit of Work, so the
// duration of a redelivered exchange includes its redelivery delays:
//
//	metrics, err := observe.NewMetrics(observe.MetricsConfig{})
//	tracing := observe.NewTracing(observe.TracingConfig{})
//	rc := route.NewContext(route.Config{
//		Interceptors: []route.Interceptor{tracing.Intercept, metrics.Intercept},
//	})
package observe

import "github.com/fxsml/goroute/exchange"

// Outcome labels of a completed exchange.
const (
	OutcomeCompleted = "completed"
	OutcomeHandled   = "handled"
	OutcomeFailed    = "failed"
)

func outcome(ex *exchange.Exchange, failed bool) string {
	switch {
	case failed:
		return OutcomeFailed
	case ex.FailureHandled():
		return OutcomeHandled
	default:
		return OutcomeCompleted
	}
}

func redeliveries(ex *exchange.Exchange) int {
	n, _ := exchange.HeaderAs[int](ex.In(), exchange.HeaderRedeliveryCounter)
	return n
}
