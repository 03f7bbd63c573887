package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsAfterDelay(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	start := time.Now()
	ran := make(chan bool, 1)
	require.True(t, s.Schedule(20*time.Millisecond, func(cancelled bool) { ran <- cancelled }))

	select {
	case cancelled := <-ran:
		assert.False(t, cancelled)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_StopCancelsPending(t *testing.T) {
	s := NewScheduler()

	var cancelled, ran atomic.Int32
	for range 3 {
		require.True(t, s.Schedule(time.Hour, func(c bool) {
			if c {
				cancelled.Add(1)
				return
			}
			ran.Add(1)
		}))
	}
	assert.Equal(t, 3, s.Pending())

	s.Stop()
	assert.Equal(t, int32(3), cancelled.Load())
	assert.Equal(t, int32(0), ran.Load())
	assert.False(t, s.Schedule(0, func(bool) { t.Error("task ran after stop") }))
}

func TestScheduler_StopWaitsForRunningTask(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	var finished atomic.Bool
	require.True(t, s.Schedule(0, func(bool) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}))

	<-started
	s.Stop()
	assert.True(t, finished.Load())
}
