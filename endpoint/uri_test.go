package endpoint

import (
	"testing"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		raw       string
		scheme    string
		remaining string
		str       string
	}{
		{"direct:start", "direct", "start", "direct:start"},
		{"SEDA://orders?size=10", "seda", "orders", "seda:orders?size=10"},
		{"seda:orders?b=2&a=1", "seda", "orders", "seda:orders?a=1&b=2"},
		{"kafka:topic/with/slash", "kafka", "topic/with/slash", "kafka:topic/with/slash"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := ParseURI(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, u.Scheme)
			assert.Equal(t, tt.remaining, u.Remaining)
			assert.Equal(t, tt.str, u.String())
		})
	}

	_, err := ParseURI("no-scheme")
	assert.ErrorIs(t, err, ErrInvalidURI)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))
}

func TestParams(t *testing.T) {
	u, err := ParseURI("seda:x?size=5&block=true&timeout=250&grace=2s&factor=1.5&pattern=InOut&name=n")
	require.NoError(t, err)
	p := u.Params

	assert.Equal(t, 5, p.Int("size", 0))
	assert.True(t, p.Bool("block", false))
	assert.Equal(t, 250*time.Millisecond, p.Duration("timeout", 0))
	assert.Equal(t, 2*time.Second, p.Duration("grace", 0))
	assert.Equal(t, 1.5, p.Float("factor", 0))
	assert.Equal(t, "n", p.String("name", ""))
	assert.Equal(t, 7, p.Int("missing", 7))

	var pattern exchange.Pattern
	p.Text("pattern", &pattern)
	assert.Equal(t, exchange.InOut, pattern)
	assert.NoError(t, p.Err())
}

func TestParams_Errors(t *testing.T) {
	u, err := ParseURI("seda:x?size=big&extra=1")
	require.NoError(t, err)

	assert.Equal(t, 3, u.Params.Int("size", 3))
	err = u.Params.Err()
	assert.ErrorIs(t, err, ErrInvalidURI)
	assert.ErrorContains(t, err, `option size="big"`)
	assert.ErrorContains(t, err, "unknown options extra")
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))
}
