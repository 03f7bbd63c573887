// Package log provides the "log:category" endpoint, which writes a
// structured record for every exchange sent to it.
package log

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// Scheme is the URI scheme of the component.
const Scheme = "log"

// Config configures the component.
type Config struct {
	// Logger receives the records. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Component creates log endpoints.
type Component struct {
	cfg Config
}

// NewComponent creates a log component.
func NewComponent(cfg Config) *Component {
	return &Component{cfg: cfg.parse()}
}

// CreateEndpoint implements endpoint.Component. Options: level (debug, info,
// warn, error), showHeaders, showBody and message.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	if uri.Remaining == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: log endpoint needs a category", endpoint.ErrInvalidURI))
	}
	level := processor.LogLevel(strings.ToLower(uri.Params.String("level", string(processor.LogLevelInfo))))
	switch level {
	case processor.LogLevelDebug, processor.LogLevelInfo, processor.LogLevelWarn, processor.LogLevelError:
	default:
		return nil, exchange.Configuration(fmt.Errorf("%w: unknown log level %q", endpoint.ErrInvalidURI, level))
	}
	cfg := processor.LogConfig{
		Logger:      c.cfg.Logger,
		Args:        []any{"category", uri.Remaining},
		Level:       level,
		Message:     uri.Params.String("message", ""),
		ShowHeaders: uri.Params.Bool("showHeaders", false),
		ShowBody:    uri.Params.Bool("showBody", true),
	}
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	return &Endpoint{uri: uri.String(), log: processor.Log(cfg)}, nil
}

// Endpoint logs exchanges.
type Endpoint struct {
	uri string
	log processor.Processor
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return e.uri }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOnly }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return endpoint.NewProducer(e.log), nil
}

// CreateConsumer implements endpoint.Endpoint. Log endpoints only receive.
func (e *Endpoint) CreateConsumer(processor.Processor) (endpoint.Consumer, error) {
	return nil, exchange.Configuration(fmt.Errorf("log: %s cannot be consumed from", e.uri))
}
