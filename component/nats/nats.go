// Package nats connects routes to NATS subjects.
//
// URIs have the form
//
//	nats:orders.created?url=nats://localhost:4222&queue=billing&requestTimeout=5s
//
// A consumer subscribes to the subject, optionally in a queue group. Messages
// with a reply subject become InOut exchanges and are answered with the
// exchange's result once its Unit of Work completes. A failed exchange is
// answered with an empty body and the HeaderError header.
//
// A producer publishes InOnly exchanges and sends InOut exchanges as
// requests, storing the reply as the Out message.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/nats-io/nats.go"
)

// Scheme is the URI scheme of the component.
const Scheme = "nats"

// Headers set on consumed messages.
const (
	HeaderSubject = "nats.subject"
	HeaderReply   = "nats.reply"
	// HeaderError carries the exception text of a failed request.
	HeaderError = "Goroute-Error"
)

// DefaultRequestTimeout bounds requests of producers without requestTimeout.
const DefaultRequestTimeout = 20 * time.Second

// ErrNotConnected is recorded on exchanges sent by a stopped producer.
var ErrNotConnected = errors.New("nats: not connected")

// Conn is the part of a NATS connection the component uses.
type Conn interface {
	Subscribe(subject, queue string, handler nats.MsgHandler) (Subscription, error)
	PublishMsg(msg *nats.Msg) error
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	Close()
}

// Subscription is an active subscription.
type Subscription interface {
	Drain() error
}

type conn struct {
	*nats.Conn
}

func (c conn) Subscribe(subject, queue string, handler nats.MsgHandler) (Subscription, error) {
	return c.QueueSubscribe(subject, queue, handler)
}

// Connect dials url with reconnect logging.
func Connect(url string, logger *slog.Logger) (Conn, error) {
	nc, err := nats.Connect(url,
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return conn{nc}, nil
}

// Config configures the component.
type Config struct {
	// URL is used by endpoints without a url option. Defaults to nats.DefaultURL.
	URL string
	// Connect opens connections. Defaults to Connect.
	Connect func(url string) (Conn, error)
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Connect == nil {
		logger := c.Logger
		c.Connect = func(url string) (Conn, error) { return Connect(url, logger) }
	}
	return c
}

// Component creates NATS endpoints.
type Component struct {
	cfg Config
}

// NewComponent creates a NATS component.
func NewComponent(cfg Config) *Component {
	return &Component{cfg: cfg.parse()}
}

// CreateEndpoint implements endpoint.Component.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	if uri.Remaining == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: nats endpoint needs a subject", endpoint.ErrInvalidURI))
	}
	ep := &Endpoint{
		subject:        uri.Remaining,
		url:            uri.Params.String("url", c.cfg.URL),
		queue:          uri.Params.String("queue", ""),
		requestTimeout: uri.Params.Duration("requestTimeout", DefaultRequestTimeout),
		cfg:            c.cfg,
	}
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	ep.uri = uri.String()
	return ep, nil
}

// Endpoint is a NATS subject.
type Endpoint struct {
	uri            string
	subject        string
	url            string
	queue          string
	requestTimeout time.Duration
	cfg            Config
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return e.uri }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOnly }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// Subject returns the subject.
func (e *Endpoint) Subject() string { return e.subject }

func toMessage(msg *nats.Msg) *exchange.Message {
	headers := map[string]any{HeaderSubject: msg.Subject}
	if msg.Reply != "" {
		headers[HeaderReply] = msg.Reply
	}
	for k := range msg.Header {
		headers[k] = msg.Header.Get(k)
	}
	return exchange.NewMessage(msg.Data, headers)
}

func fromMessage(subject string, m *exchange.Message) (*nats.Msg, error) {
	body, err := m.BodyBytes()
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	for k, v := range m.Headers() {
		if s, ok := v.(string); ok && k != HeaderSubject && k != HeaderReply {
			msg.Header.Set(k, s)
		}
	}
	return msg, nil
}
