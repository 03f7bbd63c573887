package idempotent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
	"github.com/fxsml/goroute/processor"
)

// ErrMissingKey is recorded on an exchange whose key expression is empty.
var ErrMissingKey = errors.New("idempotent: message key missing")

type config struct {
	eager           bool
	skipDuplicate   bool
	removeOnFailure bool
	logger          *slog.Logger
}

func defaultConfig() config {
	return config{
		eager:           true,
		skipDuplicate:   true,
		removeOnFailure: true,
		logger:          slog.Default(),
	}
}

// Option configures a Consumer.
type Option func(*config)

// WithEager selects when the key is added. Eager consumers add the key before
// processing, so concurrent duplicates are detected while the first is in
// flight. Non-eager consumers only check for the key and add it once the
// exchange completed. Default is true.
func WithEager(eager bool) Option {
	return func(c *config) { c.eager = eager }
}

// WithSkipDuplicate selects whether duplicates are dropped or passed to the
// next processor with the duplicate-message property set. Default is true.
func WithSkipDuplicate(skip bool) Option {
	return func(c *config) { c.skipDuplicate = skip }
}

// WithRemoveOnFailure selects whether the key of a failed exchange is
// removed, so a redelivered message is processed again. Default is true.
func WithRemoveOnFailure(remove bool) Option {
	return func(c *config) { c.removeOnFailure = remove }
}

// WithLogger sets the logger for duplicates and repository failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

var consumerSeq atomic.Uint64

// claim marks the key an exchange holds in a consumer's repository.
type claim struct {
	exchangeID string
	key        string
}

// Consumer passes each message to next at most once per key.
type Consumer struct {
	repo Repository
	key  expr.Expression
	next processor.Processor
	cfg  config

	// claim is the exchange property recording keys this consumer added.
	claim string
}

// NewConsumer creates an idempotent consumer in front of next.
func NewConsumer(repo Repository, key expr.Expression, next processor.Processor, opts ...Option) (*Consumer, error) {
	if repo == nil || key == nil || next == nil {
		return nil, exchange.Configuration(errors.New("idempotent: repository, key expression and processor are required"))
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Consumer{
		repo:  repo,
		key:   key,
		next:  next,
		cfg:   cfg,
		claim: fmt.Sprintf("%s.%d", exchange.PropertyIdempotentClaim, consumerSeq.Add(1)),
	}, nil
}

// owns reports whether ex already holds key, which is the case when an error
// handler redelivers ex into this consumer. The key stays claimed until the
// exchange completes.
func (c *Consumer) owns(ex *exchange.Exchange, key string) bool {
	v, ok := ex.Property(c.claim)
	if !ok {
		return false
	}
	cl, ok := v.(claim)
	return ok && cl.exchangeID == ex.ID() && cl.key == key
}

// Process implements processor.Processor.
func (c *Consumer) Process(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
	key, err := expr.String(ex, c.key)
	if err == nil && key == "" {
		err = exchange.Permanent(fmt.Errorf("%w: exchange %s", ErrMissingKey, ex.ID()))
	}
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	if c.owns(ex, key) {
		return processor.Invoke(ctx, c.next, ex, done)
	}

	var duplicate bool
	if c.cfg.eager {
		var added bool
		added, err = c.repo.Add(ctx, key)
		duplicate = !added
	} else {
		duplicate, err = c.repo.Contains(ctx, key)
	}
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}

	if duplicate {
		ex.SetProperty(exchange.PropertyDuplicateMessage, true)
		if c.cfg.skipDuplicate {
			c.cfg.logger.Debug("Skipping duplicate message", "key", key, "exchangeId", ex.ID())
			done(true)
			return true
		}
		return processor.Invoke(ctx, c.next, ex, done)
	}

	ex.SetProperty(c.claim, claim{exchangeID: ex.ID(), key: key})
	ex.AddSynchronization(&completion{
		consumer: c,
		key:      key,
		ctx:      context.WithoutCancel(ctx),
	})
	return processor.Invoke(ctx, c.next, ex, done)
}

// completion settles the key once the exchange finished.
type completion struct {
	consumer *Consumer
	key      string
	ctx      context.Context
}

func (s *completion) OnComplete(ex *exchange.Exchange) {
	// a dead-lettered exchange completes, but the message was not processed
	if ex.FailureHandled() {
		s.failed(ex)
		return
	}
	c := s.consumer
	if !c.cfg.eager {
		if _, err := c.repo.Add(s.ctx, s.key); err != nil {
			c.cfg.logger.Error("Failed to add idempotent key", "key", s.key, "exchangeId", ex.ID(), "error", err)
			return
		}
	}
	if _, err := c.repo.Confirm(s.ctx, s.key); err != nil {
		c.cfg.logger.Error("Failed to confirm idempotent key", "key", s.key, "exchangeId", ex.ID(), "error", err)
	}
}

func (s *completion) OnFailure(ex *exchange.Exchange) {
	s.failed(ex)
}

func (s *completion) failed(ex *exchange.Exchange) {
	c := s.consumer
	if !c.cfg.removeOnFailure || !c.cfg.eager {
		return
	}
	if _, err := c.repo.Remove(s.ctx, s.key); err != nil {
		c.cfg.logger.Error("Failed to remove idempotent key", "key", s.key, "exchangeId", ex.ID(), "error", err)
	}
}
