package processor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fxsml/goroute/exchange"
)

// LogLevel represents the severity level for logging messages.
type LogLevel string

const (
	// LogLevelDebug is used for detailed information.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is used for general information messages.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is used for warning conditions.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is used for error conditions.
	LogLevelError LogLevel = "error"
)

// LogConfig configures the Log processor.
type LogConfig struct {
	// Logger receives the records. Defaults to slog.Default().
	Logger *slog.Logger
	// Args are additional arguments to include in all log messages.
	Args []any
	// Level is the log level. Defaults to LogLevelInfo.
	Level LogLevel
	// Message is the log message. Defaults to "Exchange".
	Message string
	// ShowHeaders adds the In headers to the record.
	ShowHeaders bool
	// ShowBody adds the In body to the record. Stream bodies are never read.
	ShowBody bool
}

func (c LogConfig) parse() LogConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Level = LogLevel(strings.ToLower(string(c.Level)))
	if c.Level == "" {
		c.Level = LogLevelInfo
	}
	if c.Message == "" {
		c.Message = "Exchange"
	}
	return c
}

func (c LogConfig) logFunc() func(ctx context.Context, msg string, args ...any) {
	switch c.Level {
	case LogLevelDebug:
		return c.Logger.DebugContext
	case LogLevelWarn:
		return c.Logger.WarnContext
	case LogLevelError:
		return c.Logger.ErrorContext
	default:
		return c.Logger.InfoContext
	}
}

// Log writes a structured record describing the exchange.
func Log(cfg LogConfig) Processor {
	cfg = cfg.parse()
	log := cfg.logFunc()
	return Func(func(ctx context.Context, ex *exchange.Exchange) error {
		args := append([]any{}, cfg.Args...)
		args = append(args, "exchangeId", ex.ID(), "pattern", ex.Pattern().String())
		if cfg.ShowHeaders {
			args = append(args, "headers", ex.In().Headers())
		}
		if cfg.ShowBody {
			args = append(args, "body", loggableBody(ex.In().Body()))
		}
		log(ctx, cfg.Message, args...)
		return nil
	})
}

func loggableBody(body any) any {
	switch b := body.(type) {
	case []byte:
		return string(b)
	case *exchange.StreamBody:
		return "[stream]"
	default:
		return b
	}
}
