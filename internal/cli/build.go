package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fxsml/goroute/component/cloudevents"
	"github.com/fxsml/goroute/component/kafka"
	"github.com/fxsml/goroute/component/mock"
	"github.com/fxsml/goroute/component/nats"
	"github.com/fxsml/goroute/component/rabbitmq"
	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/expr"
	"github.com/fxsml/goroute/idempotent"
	"github.com/fxsml/goroute/observe"
	"github.com/fxsml/goroute/processor"
	"github.com/fxsml/goroute/route"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
)

// ErrUnknownRepository is returned for an unsupported idempotent kind.
var ErrUnknownRepository = errors.New("cli: unknown idempotent repository")

// App is a routing context built from Settings.
type App struct {
	Context *route.Context
	// Metrics is set when Settings.Metrics.Addr is.
	Metrics *observe.Metrics
	// Mock records exchanges sent to mock: endpoints.
	Mock *mock.Component

	closers []func() error
}

// Close releases repository connections. The context must be stopped first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Build creates the context with its components and routes. Nothing is
// started.
func Build(ctx context.Context, s Settings, logger *slog.Logger) (*App, error) {
	app := &App{Mock: mock.NewComponent()}

	cfg := s.Context
	cfg.Logger = logger
	if s.Tracing {
		cfg.Interceptors = append(cfg.Interceptors, observe.NewTracing(observe.TracingConfig{}).Intercept)
	}
	if s.Metrics.Addr != "" {
		m, err := observe.NewMetrics(observe.MetricsConfig{Namespace: s.Metrics.Namespace})
		if err != nil {
			return nil, err
		}
		app.Metrics = m
		cfg.Interceptors = append(cfg.Interceptors, m.Intercept)
	}
	app.Context = route.NewContext(cfg)

	components := map[string]endpoint.Component{
		mock.Scheme:        app.Mock,
		kafka.Scheme:       kafka.NewComponent(kafka.Config{Brokers: s.Brokers.Kafka, Logger: logger}),
		nats.Scheme:        nats.NewComponent(nats.Config{URL: s.Brokers.NATS, Logger: logger}),
		rabbitmq.Scheme:    rabbitmq.NewComponent(rabbitmq.Config{URL: s.Brokers.AMQP, Logger: logger}),
		cloudevents.Scheme: cloudevents.NewComponent(cloudevents.Config{Logger: logger}),
	}
	for scheme, comp := range components {
		if err := app.Context.AddComponent(scheme, comp); err != nil {
			return nil, err
		}
	}

	var repo idempotent.Repository
	defs := make([]*route.Definition, 0, len(s.Routes))
	for _, r := range s.Routes {
		if r.IdempotentKey != "" && repo == nil {
			var err error
			if repo, err = app.repository(ctx, s.Idempotent); err != nil {
				_ = app.Close()
				return nil, err
			}
		}
		defs = append(defs, definition(r, repo, logger))
	}
	if err := app.Context.AddRoutes(defs...); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) repository(ctx context.Context, s IdempotentSettings) (idempotent.Repository, error) {
	switch s.Kind {
	case RepositoryMemory, "":
		return idempotent.NewMemoryRepository(s.Size), nil
	case RepositoryRedis:
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("cli: connect redis %s: %w", s.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		var prefix string
		if s.ProcessorName != "" {
			prefix = "goroute:idempotent:" + s.ProcessorName + ":"
		}
		return idempotent.NewRedisRepository(client, idempotent.RedisConfig{Prefix: prefix}), nil
	case RepositorySQL:
		db, err := sql.Open("sqlite3", s.DSN)
		if err != nil {
			return nil, fmt.Errorf("cli: open %s: %w", s.DSN, err)
		}
		// sqlite in-memory databases are per connection.
		db.SetMaxOpenConns(1)
		repo, err := idempotent.NewSQLRepository(ctx, db, idempotent.SQLConfig{ProcessorName: s.ProcessorName})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRepository, s.Kind)
}

func definition(r RouteSettings, repo idempotent.Repository, logger *slog.Logger) *route.Definition {
	var steps []route.Step
	if r.Log {
		steps = append(steps, route.Log(processor.LogConfig{
			Logger:      logger,
			Message:     "Route received",
			ShowHeaders: true,
			ShowBody:    true,
			Args:        []any{"route", r.ID},
		}))
	}
	to := make([]route.Step, 0, len(r.To))
	for _, uri := range r.To {
		to = append(to, route.To(uri))
	}
	if r.Throttle.Rate > 0 || r.Throttle.MaxConcurrent > 0 {
		to = []route.Step{route.Throttle(r.Throttle, to...)}
	}
	if r.IdempotentKey != "" {
		steps = append(steps, route.Idempotent(repo, expr.Header(r.IdempotentKey),
			[]idempotent.Option{idempotent.WithLogger(logger)}, to...))
	} else {
		steps = append(steps, to...)
	}
	def := route.From(r.From, steps...)
	if r.ID != "" {
		def = def.WithID(r.ID)
	}
	return def
}
