package seda

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fxsml/goroute/endpoint"
)

// ShutdownRunningTask selects what a stopping consumer completes.
type ShutdownRunningTask int

const (
	// CompleteCurrentTaskOnly finishes the exchanges being processed and
	// fails queued exchanges with a ShutdownForced error.
	CompleteCurrentTaskOnly ShutdownRunningTask = iota
	// CompleteAllTasks drains the queue before stopping.
	CompleteAllTasks
)

// String implements fmt.Stringer.
func (s ShutdownRunningTask) String() string {
	if s == CompleteAllTasks {
		return "CompleteAllTasks"
	}
	return "CompleteCurrentTaskOnly"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ShutdownRunningTask) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "completecurrenttaskonly", "":
		*s = CompleteCurrentTaskOnly
	case "completealltasks":
		*s = CompleteAllTasks
	default:
		return fmt.Errorf("seda: unknown shutdownRunningTask %q", string(text))
	}
	return nil
}

// WaitForTaskToComplete selects whether a producer waits for the consumer.
type WaitForTaskToComplete int

const (
	// IfReplyExpected waits for InOut exchanges only.
	IfReplyExpected WaitForTaskToComplete = iota
	// Never returns as soon as the exchange is queued.
	Never
	// Always waits for every exchange.
	Always
)

// String implements fmt.Stringer.
func (w WaitForTaskToComplete) String() string {
	switch w {
	case Never:
		return "Never"
	case Always:
		return "Always"
	default:
		return "IfReplyExpected"
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WaitForTaskToComplete) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "ifreplyexpected", "":
		*w = IfReplyExpected
	case "never":
		*w = Never
	case "always":
		*w = Always
	default:
		return fmt.Errorf("seda: unknown waitForTaskToComplete %q", string(text))
	}
	return nil
}

// Default configuration values.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultPollTimeout     = time.Second
)

// Config configures a seda endpoint. Zero values select the defaults.
type Config struct {
	// Size is the queue capacity. 0 means unbounded.
	Size int `yaml:"size"`
	// ConcurrentConsumers is the number of workers. Defaults to 1.
	ConcurrentConsumers int `yaml:"concurrentConsumers"`
	// BlockWhenFull makes producers wait for space instead of failing with ErrQueueFull.
	BlockWhenFull bool `yaml:"blockWhenFull"`
	// WaitForTaskToComplete selects whether producers wait for the consumer.
	WaitForTaskToComplete WaitForTaskToComplete `yaml:"waitForTaskToComplete"`
	// Timeout bounds how long a waiting producer waits. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`
	// ShutdownTimeout bounds a graceful consumer stop. Defaults to 30s.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// ShutdownRunningTask selects what a stopping consumer completes.
	ShutdownRunningTask ShutdownRunningTask `yaml:"shutdownRunningTask"`
	// PollTimeout is how long an idle worker waits per poll. Defaults to 1s.
	PollTimeout time.Duration `yaml:"pollTimeout"`
	// Logger is used for lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c Config) parse() Config {
	if c.ConcurrentConsumers <= 0 {
		c.ConcurrentConsumers = 1
	}
	if c.Size < 0 {
		c.Size = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// withParams overrides c with the endpoint URI options.
func (c Config) withParams(p *endpoint.Params) Config {
	c.Size = p.Int("size", c.Size)
	c.ConcurrentConsumers = p.Int("concurrentConsumers", c.ConcurrentConsumers)
	c.BlockWhenFull = p.Bool("blockWhenFull", c.BlockWhenFull)
	p.Text("waitForTaskToComplete", &c.WaitForTaskToComplete)
	c.Timeout = p.Duration("timeout", c.Timeout)
	c.ShutdownTimeout = p.Duration("shutdownTimeout", c.ShutdownTimeout)
	p.Text("shutdownRunningTask", &c.ShutdownRunningTask)
	c.PollTimeout = p.Duration("pollTimeout", c.PollTimeout)
	return c
}
