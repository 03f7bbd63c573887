package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerName_Unique(t *testing.T) {
	a := WorkerName("x")
	b := WorkerName("x")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "goroute "))
	assert.True(t, strings.HasSuffix(a, " - x"))
}

func TestManager_NewPool(t *testing.T) {
	m := NewManager(Config{})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	p, err := m.NewPool("a", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())

	_, err = m.NewPool("a", 1)
	assert.ErrorIs(t, err, ErrPoolExists)
	_, err = m.NewPool("b", 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	got, ok := m.Pool("a")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, []string{"a"}, m.Pools())

	require.NoError(t, p.Close())
	assert.Empty(t, m.Pools())
}

func TestPool_LimitsConcurrency(t *testing.T) {
	m := NewManager(Config{})
	p, err := m.NewPool("limited", 2)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan string, 3)
	worker := func(ctx context.Context, name string) error {
		started <- name
		<-release
		return nil
	}

	require.NoError(t, p.Go(worker))
	require.NoError(t, p.Go(worker))
	<-started
	<-started

	ok, err := p.TryGo(worker)
	require.NoError(t, err)
	assert.False(t, ok, "third worker must not start while two are running")
	assert.Equal(t, int64(2), p.Active())
	assert.Len(t, p.Workers(), 2)

	close(release)
	require.NoError(t, p.Wait())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestPool_CloseCancelsWorkers(t *testing.T) {
	m := NewManager(Config{})
	p, err := m.NewPool("cancel", 1)
	require.NoError(t, err)

	boom := errors.New("stopped")
	require.NoError(t, p.Go(func(ctx context.Context, name string) error {
		<-ctx.Done()
		return boom
	}))

	assert.ErrorIs(t, p.Close(), boom)
	assert.ErrorIs(t, p.Go(func(context.Context, string) error { return nil }), ErrPoolClosed)
	_, err = p.TryGo(func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestManager_ShutdownRejectsPools(t *testing.T) {
	m := NewManager(Config{})
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.NewPool("late", 1)
	assert.ErrorIs(t, err, ErrManagerStopped)
}

func TestManager_ShutdownTimeout(t *testing.T) {
	m := NewManager(Config{})
	p, err := m.NewPool("stuck", 1)
	require.NoError(t, err)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Go(func(ctx context.Context, name string) error {
		defer wg.Done()
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	wg.Wait()
}
