// Package kafka connects routes to Kafka topics.
//
// URIs have the form
//
//	kafka:topic?brokers=host:9092,host2:9092&groupId=orders&startOffset=first
//
// A consumer reads one message at a time as an InOnly exchange and commits
// its offset when the exchange's Unit of Work completes. Without groupId
// nothing is committed. A failed exchange
// is not committed, so the consumer group receives it again after a
// rebalance or restart. Because commits are ordered per partition, the
// consumer stops reading its partition after a failure until it is
// restarted.
//
// A producer writes the In body to the topic. The "kafka.key" header sets
// the message key. Other string headers are sent as Kafka headers.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/segmentio/kafka-go"
)

// Scheme is the URI scheme of the component.
const Scheme = "kafka"

// Headers set on consumed messages.
const (
	HeaderTopic     = "kafka.topic"
	HeaderPartition = "kafka.partition"
	HeaderOffset    = "kafka.offset"
	HeaderKey       = "kafka.key"
)

// ErrNoBrokers is returned for endpoints without brokers.
var ErrNoBrokers = errors.New("kafka: no brokers")

// Reader is the part of *kafka.Reader a consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the part of *kafka.Writer a producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the component.
type Config struct {
	// Brokers are used by endpoints without a brokers option.
	Brokers []string
	// NewReader creates consumer readers. Defaults to kafka.NewReader.
	NewReader func(cfg kafka.ReaderConfig) Reader
	// NewWriter creates producer writers. Defaults to a *kafka.Writer.
	NewWriter func(brokers []string, topic string) Writer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() Config {
	if c.NewReader == nil {
		c.NewReader = func(cfg kafka.ReaderConfig) Reader { return kafka.NewReader(cfg) }
	}
	if c.NewWriter == nil {
		c.NewWriter = func(brokers []string, topic string) Writer {
			return &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				RequiredAcks: kafka.RequireAll,
				Balancer:     &kafka.Hash{},
			}
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Component creates Kafka endpoints.
type Component struct {
	cfg Config
}

// NewComponent creates a Kafka component.
func NewComponent(cfg Config) *Component {
	return &Component{cfg: cfg.parse()}
}

// CreateEndpoint implements endpoint.Component.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	if uri.Remaining == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: kafka endpoint needs a topic", endpoint.ErrInvalidURI))
	}
	ep := &Endpoint{
		topic:          uri.Remaining,
		brokers:        c.cfg.Brokers,
		groupID:        uri.Params.String("groupId", ""),
		commitInterval: uri.Params.Duration("commitInterval", 0),
		maxWait:        uri.Params.Duration("maxWait", time.Second),
		cfg:            c.cfg,
	}
	if s := uri.Params.String("brokers", ""); s != "" {
		ep.brokers = splitList(s)
	}
	switch offset := uri.Params.String("startOffset", "last"); offset {
	case "first":
		ep.startOffset = kafka.FirstOffset
	case "last":
		ep.startOffset = kafka.LastOffset
	default:
		return nil, exchange.Configuration(fmt.Errorf("%w: startOffset %q, want first or last", endpoint.ErrInvalidURI, offset))
	}
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	if len(ep.brokers) == 0 {
		return nil, exchange.Configuration(fmt.Errorf("%w: %s", ErrNoBrokers, uri))
	}
	ep.uri = uri.String()
	return ep, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Endpoint is a Kafka topic.
type Endpoint struct {
	uri            string
	topic          string
	brokers        []string
	groupID        string
	startOffset    int64
	commitInterval time.Duration
	maxWait        time.Duration
	cfg            Config
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return e.uri }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOnly }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// Topic returns the topic name.
func (e *Endpoint) Topic() string { return e.topic }

func (e *Endpoint) readerConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        e.brokers,
		GroupID:        e.groupID,
		Topic:          e.topic,
		StartOffset:    e.startOffset,
		CommitInterval: e.commitInterval,
		MaxWait:        e.maxWait,
	}
}
