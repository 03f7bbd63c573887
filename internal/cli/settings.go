package cli

import (
	"fmt"

	"github.com/fxsml/goroute/config"
	"github.com/fxsml/goroute/processor"
	"github.com/fxsml/goroute/route"
)

// Settings configures the run command.
type Settings struct {
	// Context configures the routing context.
	Context route.Config `yaml:"context"`
	// Brokers holds the connection defaults of the broker components.
	Brokers BrokerSettings `yaml:"brokers"`
	// Idempotent selects the repository of routes with an idempotentKey.
	Idempotent IdempotentSettings `yaml:"idempotent"`
	// Metrics exposes Prometheus metrics.
	Metrics MetricsSettings `yaml:"metrics"`
	// Tracing starts a span per exchange on the global tracer provider.
	Tracing bool `yaml:"tracing"`
	// Routes are the routes to run.
	Routes []RouteSettings `yaml:"routes"`
}

// BrokerSettings holds broker addresses.
type BrokerSettings struct {
	Kafka []string `yaml:"kafka"`
	NATS  string   `yaml:"nats"`
	AMQP  string   `yaml:"amqp"`
}

// Repository kinds.
const (
	RepositoryMemory = "memory"
	RepositoryRedis  = "redis"
	RepositorySQL    = "sql"
)

// IdempotentSettings selects an idempotent repository.
type IdempotentSettings struct {
	// Kind is memory, redis or sql. Defaults to memory.
	Kind string `yaml:"kind"`
	// Size bounds the memory repository.
	Size int `yaml:"size"`
	// RedisAddr is the address of the redis repository.
	RedisAddr string `yaml:"redisAddr"`
	// DSN is the sqlite3 data source of the sql repository.
	DSN string `yaml:"dsn"`
	// ProcessorName scopes keys in shared stores.
	ProcessorName string `yaml:"processorName"`
}

// MetricsSettings configures the metrics endpoint.
type MetricsSettings struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// RouteSettings declares one route.
type RouteSettings struct {
	ID   string `yaml:"id"`
	From string `yaml:"from"`
	// IdempotentKey is a header name; messages with a key seen before are dropped.
	IdempotentKey string `yaml:"idempotentKey"`
	// Throttle limits the exchanges sent to the To endpoints.
	Throttle processor.ThrottleConfig `yaml:"throttle"`
	// Log logs every exchange entering the route.
	Log bool     `yaml:"log"`
	To  []string `yaml:"to"`
}

// LoadSettings reads path, if set, and overlays environment variables.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	if path != "" {
		if err := config.LoadFile(path, &s); err != nil {
			return s, err
		}
	}
	if err := config.Load(EnvStage, &s); err != nil {
		return s, err
	}
	if s.Idempotent.Kind == "" {
		s.Idempotent.Kind = RepositoryMemory
	}
	for i, r := range s.Routes {
		if r.From == "" {
			return s, fmt.Errorf("cli: route %d has no from", i+1)
		}
	}
	return s, nil
}
