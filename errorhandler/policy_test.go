package errorhandler

import (
	"errors"
	"testing"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeliveryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		policy RedeliveryPolicy
		valid  bool
	}{
		{"zero", RedeliveryPolicy{}, true},
		{"negative redeliveries", RedeliveryPolicy{MaximumRedeliveries: -1}, false},
		{"negative delay", RedeliveryPolicy{RedeliveryDelay: -time.Second}, false},
		{"negative cap", RedeliveryPolicy{MaximumRedeliveryDelay: -time.Second}, false},
		{"collision factor too large", RedeliveryPolicy{CollisionAvoidanceFactor: 1.5}, false},
		{"pattern", RedeliveryPolicy{DelayPattern: "0:100;3:1s"}, true},
		{"pattern without colon", RedeliveryPolicy{DelayPattern: "100"}, false},
		{"pattern decreasing", RedeliveryPolicy{DelayPattern: "3:1s;1:2s"}, false},
		{"pattern bad delay", RedeliveryPolicy{DelayPattern: "1:soon"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidPolicy)
			assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))
		})
	}
}

func TestRedeliveryPolicy_DelayMonotonicAndCapped(t *testing.T) {
	p, err := RedeliveryPolicy{
		MaximumRedeliveries:    10,
		RedeliveryDelay:        10 * time.Millisecond,
		BackOffMultiplier:      2,
		MaximumRedeliveryDelay: 200 * time.Millisecond,
	}.parse()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	assert.Equal(t, 20*time.Millisecond, p.Delay(2))
	assert.Equal(t, 40*time.Millisecond, p.Delay(3))

	prev := time.Duration(0)
	for i := 1; i <= 10; i++ {
		d := p.Delay(i)
		assert.GreaterOrEqual(t, d, prev, "delay %d decreased", i)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
		prev = d
	}
	assert.Equal(t, 200*time.Millisecond, p.Delay(10))
}

func TestRedeliveryPolicy_ConstantWithoutMultiplier(t *testing.T) {
	p := RedeliveryPolicy{RedeliveryDelay: 5 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, p.Delay(1))
	assert.Equal(t, 5*time.Millisecond, p.Delay(7))
}

func TestRedeliveryPolicy_CollisionAvoidance(t *testing.T) {
	p := RedeliveryPolicy{RedeliveryDelay: 100 * time.Millisecond, CollisionAvoidanceFactor: 0.2}
	for range 100 {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestRedeliveryPolicy_DelayPattern(t *testing.T) {
	p, err := RedeliveryPolicy{DelayPattern: "1:100; 3:1s; 5:5000"}.parse()
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(9))

	// below the first group
	p, err = RedeliveryPolicy{DelayPattern: "2:1s"}.parse()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), p.Delay(1))
}

func TestRedeliveryPolicy_Retryable(t *testing.T) {
	p := RedeliveryPolicy{}
	assert.True(t, p.Retryable(errors.New("plain")))
	assert.True(t, p.Retryable(exchange.Transient(errors.New("blip"))))
	assert.False(t, p.Retryable(exchange.Permanent(errors.New("bad input"))))
	assert.False(t, p.Retryable(exchange.ShutdownForced(nil)))

	p.RetryableKinds = []exchange.ErrorKind{exchange.KindPermanent}
	assert.True(t, p.Retryable(exchange.Permanent(errors.New("bad input"))))
	assert.False(t, p.Retryable(errors.New("plain")))
}
