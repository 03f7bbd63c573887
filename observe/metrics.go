package observe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures Metrics.
type MetricsConfig struct {
	// Namespace prefixes metric names. Defaults to "goroute".
	Namespace string
	// Subsystem is an optional second name prefix.
	Subsystem string
	// Buckets are the duration histogram buckets in seconds.
	// Defaults to prometheus.DefBuckets.
	Buckets []float64
	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels
	// Registry receives the collectors. Defaults to a new registry.
	Registry *prometheus.Registry
}

func (c MetricsConfig) parse() MetricsConfig {
	if c.Namespace == "" {
		c.Namespace = "goroute"
	}
	if c.Buckets == nil {
		c.Buckets = prometheus.DefBuckets
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	return c
}

// Metrics counts exchanges per route and outcome.
type Metrics struct {
	registry     *prometheus.Registry
	exchanges    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	redeliveries *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	cfg = cfg.parse()
	m := &Metrics{
		registry: cfg.Registry,
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "exchanges_total",
			Help:        "Number of exchanges that completed a route, by outcome.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "exchange_duration_seconds",
			Help:        "Time from entering a route to Unit of Work completion.",
			Buckets:     cfg.Buckets,
			ConstLabels: cfg.ConstLabels,
		}, []string{"route", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "exchanges_in_flight",
			Help:        "Number of exchanges inside a route.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route"}),
		redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "redeliveries_total",
			Help:        "Number of redelivery attempts.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route"}),
	}
	for _, c := range []prometheus.Collector{m.exchanges, m.duration, m.inFlight, m.redeliveries} {
		if err := cfg.Registry.Register(c); err != nil {
			return nil, fmt.Errorf("observe: register metrics: %w", err)
		}
	}
	return m, nil
}

// Intercept records the exchange when its Unit of Work completes.
func (m *Metrics) Intercept(routeID string, next processor.Processor) processor.Processor {
	return processor.AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
		start := time.Now()
		inFlight := m.inFlight.WithLabelValues(routeID)
		inFlight.Inc()

		record := func(failed bool) func(*exchange.Exchange) {
			return func(ex *exchange.Exchange) {
				inFlight.Dec()
				o := outcome(ex, failed)
				m.exchanges.WithLabelValues(routeID, o).Inc()
				m.duration.WithLabelValues(routeID, o).Observe(time.Since(start).Seconds())
				if n := redeliveries(ex); n > 0 {
					m.redeliveries.WithLabelValues(routeID).Add(float64(n))
				}
			}
		}
		ex.AddSynchronization(exchange.SynchronizationFuncs{Complete: record(false), Failure: record(true)})
		return next.Process(ctx, ex, done)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
