package route

import (
	"log/slog"
	"time"

	"github.com/fxsml/goroute/errorhandler"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/fxsml/goroute/seda"
)

// DefaultShutdownTimeout bounds Context.Stop when the caller's context has no deadline.
const DefaultShutdownTimeout = 45 * time.Second

// Interceptor wraps the error handler of every route. Interceptors run inside
// the route's Unit of Work, so synchronizations they add fire on completion.
type Interceptor func(routeID string, next processor.Processor) processor.Processor

// ErrorHandler configures the error handler of a route.
type ErrorHandler struct {
	// Policy is the redelivery policy.
	Policy errorhandler.RedeliveryPolicy `yaml:",inline"`
	// DeadLetterURI is the endpoint receiving exhausted exchanges. Empty
	// selects the default error handler, which logs the failure and leaves
	// the exchange failed.
	DeadLetterURI string `yaml:"deadLetterUri"`
	// OnRedelivery is called before each redelivery.
	OnRedelivery func(ex *exchange.Exchange) `yaml:"-"`
}

// Config configures a Context.
type Config struct {
	// Name identifies the context in logs. Defaults to "goroute".
	Name string `yaml:"name"`
	// ErrorHandler is used by routes that do not configure their own.
	ErrorHandler ErrorHandler `yaml:"errorHandler"`
	// Interceptors wrap every route, outermost first.
	Interceptors []Interceptor `yaml:"-"`
	// Seda holds defaults for seda endpoints.
	Seda seda.Config `yaml:"seda"`
	// ShutdownTimeout bounds Stop. Defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// Logger is used by the context, its components and the default error
	// handler. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c Config) parse() Config {
	if c.Name == "" {
		c.Name = "goroute"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Seda.Logger == nil {
		c.Seda.Logger = c.Logger
	}
	return c
}
