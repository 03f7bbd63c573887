package errorhandler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
)

// ErrInvalidPolicy is returned for a redelivery policy that cannot be used.
var ErrInvalidPolicy = errors.New("errorhandler: invalid redelivery policy")

// DefaultMaximumRedeliveryDelay caps the computed delay when no cap is configured.
const DefaultMaximumRedeliveryDelay = time.Minute

// DefaultRetryableKinds are the error kinds redelivered when none are configured.
var DefaultRetryableKinds = []exchange.ErrorKind{exchange.KindUnknown, exchange.KindTransient}

// RedeliveryPolicy controls when and how often a failed exchange is redelivered.
// The zero value never redelivers.
type RedeliveryPolicy struct {
	// MaximumRedeliveries is the number of redeliveries after the first
	// attempt. Zero disables redelivery; negative values are invalid.
	MaximumRedeliveries int `yaml:"maximumRedeliveries"`
	// RedeliveryDelay is the delay before the first redelivery. Zero
	// redelivers without delay.
	RedeliveryDelay time.Duration `yaml:"redeliveryDelay"`
	// BackOffMultiplier multiplies the delay for each further redelivery.
	// Values below 1 keep the delay constant.
	BackOffMultiplier float64 `yaml:"backOffMultiplier"`
	// MaximumRedeliveryDelay caps the delay. Defaults to one minute.
	MaximumRedeliveryDelay time.Duration `yaml:"maximumRedeliveryDelay"`
	// CollisionAvoidanceFactor spreads each delay randomly by up to the given
	// fraction in either direction, e.g. 0.15 for ±15%.
	CollisionAvoidanceFactor float64 `yaml:"collisionAvoidanceFactor"`
	// DelayPattern overrides the computed delays with groups of
	// "redelivery:delay" separated by ";", e.g. "1:100ms;3:1s;5:10s".
	// A delay without unit is read as milliseconds.
	DelayPattern string `yaml:"delayPattern"`
	// RetryableKinds lists the error kinds that are redelivered.
	// Defaults to DefaultRetryableKinds.
	RetryableKinds []exchange.ErrorKind `yaml:"retryableExceptions"`
	// RetryWhile, if set, replaces the MaximumRedeliveries bound: the exchange
	// is redelivered as long as the predicate matches.
	RetryWhile expr.Predicate `yaml:"-"`

	pattern []delayGroup
}

type delayGroup struct {
	from  int
	delay time.Duration
}

// Validate reports configuration errors as exchange.KindConfiguration.
func (p RedeliveryPolicy) Validate() error {
	_, err := p.parse()
	return err
}

func (p RedeliveryPolicy) parse() (RedeliveryPolicy, error) {
	var errs []error
	if p.MaximumRedeliveries < 0 {
		errs = append(errs, fmt.Errorf("maximumRedeliveries must not be negative: %d", p.MaximumRedeliveries))
	}
	if p.RedeliveryDelay < 0 {
		errs = append(errs, fmt.Errorf("redeliveryDelay must not be negative: %s", p.RedeliveryDelay))
	}
	if p.MaximumRedeliveryDelay < 0 {
		errs = append(errs, fmt.Errorf("maximumRedeliveryDelay must not be negative: %s", p.MaximumRedeliveryDelay))
	}
	if p.CollisionAvoidanceFactor < 0 || p.CollisionAvoidanceFactor > 1 {
		errs = append(errs, fmt.Errorf("collisionAvoidanceFactor must be within [0, 1]: %g", p.CollisionAvoidanceFactor))
	}
	if p.DelayPattern != "" {
		groups, err := parseDelayPattern(p.DelayPattern)
		if err != nil {
			errs = append(errs, err)
		}
		p.pattern = groups
	}
	if len(errs) > 0 {
		return p, exchange.Configuration(fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...)))
	}

	if p.BackOffMultiplier < 1 {
		p.BackOffMultiplier = 1
	}
	if p.MaximumRedeliveryDelay == 0 {
		p.MaximumRedeliveryDelay = DefaultMaximumRedeliveryDelay
	}
	if len(p.RetryableKinds) == 0 {
		p.RetryableKinds = DefaultRetryableKinds
	}
	return p, nil
}

func parseDelayPattern(s string) ([]delayGroup, error) {
	var groups []delayGroup
	for _, g := range strings.Split(s, ";") {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		from, delay, ok := strings.Cut(g, ":")
		if !ok {
			return nil, fmt.Errorf("delayPattern group %q: missing ':'", g)
		}
		n, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("delayPattern group %q: invalid redelivery number", g)
		}
		d, err := parseDelay(strings.TrimSpace(delay))
		if err != nil {
			return nil, fmt.Errorf("delayPattern group %q: %w", g, err)
		}
		if len(groups) > 0 && n <= groups[len(groups)-1].from {
			return nil, fmt.Errorf("delayPattern group %q: redelivery numbers must increase", g)
		}
		groups = append(groups, delayGroup{from: n, delay: d})
	}
	return groups, nil
}

func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %s", d)
	}
	return d, nil
}

// Retryable reports whether err is of a retryable kind.
func (p RedeliveryPolicy) Retryable(err error) bool {
	kinds := p.RetryableKinds
	if len(kinds) == 0 {
		kinds = DefaultRetryableKinds
	}
	return slices.Contains(kinds, exchange.KindOf(err))
}

// Delay returns the delay before the given redelivery (one-based).
// Without a delay pattern it is
// RedeliveryDelay * BackOffMultiplier^(redelivery-1), spread by the collision
// avoidance factor and capped at MaximumRedeliveryDelay.
func (p RedeliveryPolicy) Delay(redelivery int) time.Duration {
	if p.DelayPattern != "" && p.pattern == nil {
		p.pattern, _ = parseDelayPattern(p.DelayPattern)
	}
	if len(p.pattern) > 0 {
		var d time.Duration
		for _, g := range p.pattern {
			if g.from > redelivery {
				break
			}
			d = g.delay
		}
		return d
	}

	multiplier := max(p.BackOffMultiplier, 1)
	maxDelay := p.MaximumRedeliveryDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaximumRedeliveryDelay
	}

	backoff := float64(p.RedeliveryDelay) * math.Pow(multiplier, float64(max(redelivery, 1)-1))
	if f := p.CollisionAvoidanceFactor; f > 0 {
		backoff *= 1.0 + (rand.Float64()*2*f - f)
	}
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	return time.Duration(backoff)
}
