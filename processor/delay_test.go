package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	s := pool.NewScheduler()
	defer s.Stop()

	ex := newExchange(nil)
	start := time.Now()
	completed := Delay(20*time.Millisecond, s).Process(context.Background(), ex, func(bool) {})
	assert.False(t, completed)

	require.NoError(t, Run(context.Background(), Delay(20*time.Millisecond, s), ex))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDelay_ZeroIsSynchronous(t *testing.T) {
	s := pool.NewScheduler()
	defer s.Stop()

	completed := Delay(0, s).Process(context.Background(), newExchange(nil), func(doneSync bool) {
		assert.True(t, doneSync)
	})
	assert.True(t, completed)
}

func TestDelay_SchedulerStopFailsExchange(t *testing.T) {
	s := pool.NewScheduler()
	ex := newExchange(nil)

	doneCh := make(chan struct{})
	Delay(time.Hour, s).Process(context.Background(), ex, func(bool) { close(doneCh) })
	s.Stop()

	<-doneCh
	assert.Equal(t, exchange.KindShutdownForced, exchange.KindOf(ex.Err()))

	ex = newExchange(nil)
	err := Run(context.Background(), Delay(time.Hour, s), ex)
	assert.True(t, errors.Is(err, exchange.ErrShutdownForced))
}

func TestDelayFunc_Error(t *testing.T) {
	boom := errors.New("boom")
	p := DelayFunc(func(*exchange.Exchange) (time.Duration, error) { return 0, boom }, pool.NewScheduler())
	assert.ErrorIs(t, Run(context.Background(), p, newExchange(nil)), boom)
}
