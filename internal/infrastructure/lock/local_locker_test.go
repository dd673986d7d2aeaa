package lock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/stock-ledger/internal/domain"
)

func TestLocalLocker_Exclusivo(t *testing.T) {
	l := NewLocalLocker(time.Millisecond)
	var inside, maxInside int32

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			lease, err := l.Acquire(context.Background(), "k", time.Second)
			if err != nil {
				return err
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return lease.Release(context.Background())
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_Timeout(t *testing.T) {
	l := NewLocalLocker(time.Millisecond)
	_, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestLocalLocker_ExpiraPorTTL(t *testing.T) {
	l := NewLocalLocker(time.Millisecond)
	first, err := l.Acquire(context.Background(), "k", 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Release(context.Background()), ErrLeaseLost)
	assert.NoError(t, second.Release(context.Background()))
}

func TestLocalLocker_ClavesIndependientes(t *testing.T) {
	l := NewLocalLocker(time.Millisecond)
	a, err := l.Acquire(context.Background(), "a", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b, err := l.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, a.Release(context.Background()))
	assert.NoError(t, b.Release(context.Background()))
}
