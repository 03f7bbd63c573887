package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
	"github.com/segmentio/kafka-go"
)

// ErrProducerStopped is recorded on exchanges sent to a stopped producer.
var ErrProducerStopped = errors.New("kafka: producer not started")

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &producer{endpoint: e}, nil
}

type producer struct {
	endpoint *Endpoint

	mu     sync.RWMutex
	writer Writer
}

func (p *producer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		p.writer = p.endpoint.cfg.NewWriter(p.endpoint.brokers, p.endpoint.topic)
	}
	return nil
}

func (p *producer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

func (p *producer) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	return processor.Func(p.send).Process(ctx, ex, done)
}

func (p *producer) send(ctx context.Context, ex *exchange.Exchange) error {
	p.mu.RLock()
	w := p.writer
	p.mu.RUnlock()
	if w == nil {
		return exchange.ShutdownForced(fmt.Errorf("%w: %s", ErrProducerStopped, p.endpoint.uri))
	}

	msg, err := fromMessage(ex.In())
	if err != nil {
		return exchange.Permanent(fmt.Errorf("kafka: %s: %w", p.endpoint.uri, err))
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return exchange.Transient(fmt.Errorf("kafka: publish to %s: %w", p.endpoint.topic, err))
	}
	return nil
}

func fromMessage(m *exchange.Message) (kafka.Message, error) {
	body, err := m.BodyBytes()
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{Value: body}
	for k, v := range m.Headers() {
		s, ok := v.(string)
		switch {
		case !ok:
		case strings.EqualFold(k, HeaderKey):
			msg.Key = []byte(s)
		case strings.HasPrefix(strings.ToLower(k), "kafka."), strings.HasPrefix(strings.ToLower(k), "goroute."):
		default:
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(s)})
		}
	}
	return msg, nil
}
