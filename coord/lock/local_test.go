package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLocal(opts ...LocalOption) *LocalLock {
	return NewLocal(append([]LocalOption{WithLogger(clog.Nop())}, opts...)...)
}

// TestLocalLock_TryAcquire 测试非阻塞获取
func TestLocalLock_TryAcquire(t *testing.T) {
	locks := newTestLocal()
	ctx := context.Background()

	t.Run("successful try acquire", func(t *testing.T) {
		l, err := locks.TryAcquire(ctx, "username:alice", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "username:alice", l.Key())
		assert.NotEmpty(t, l.Token())
		assert.NoError(t, l.Unlock(ctx))
	})

	t.Run("lock already held", func(t *testing.T) {
		l1, err := locks.TryAcquire(ctx, "username:bob", time.Second)
		require.NoError(t, err)
		defer l1.Unlock(ctx)

		l2, err := locks.TryAcquire(ctx, "username:bob", time.Second)
		assert.ErrorIs(t, err, ErrLocked)
		assert.Nil(t, l2)
	})

	t.Run("distinct keys do not contend", func(t *testing.T) {
		l1, err := locks.TryAcquire(ctx, "short-link-suffix:s.ly/abc", time.Second)
		require.NoError(t, err)
		l2, err := locks.TryAcquire(ctx, "username:s.ly/abc", time.Second)
		require.NoError(t, err)
		assert.NoError(t, l1.Unlock(ctx))
		assert.NoError(t, l2.Unlock(ctx))
	})

	t.Run("validation", func(t *testing.T) {
		_, err := locks.TryAcquire(ctx, "", time.Second)
		assert.Error(t, err)
		_, err = locks.TryAcquire(ctx, "k", 0)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := locks.TryAcquire(cancelled, "k", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestLocalLock_UnlockTwice 测试重复释放没有副作用
func TestLocalLock_UnlockTwice(t *testing.T) {
	locks := newTestLocal()
	ctx := context.Background()

	l, err := locks.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.NoError(t, l.Unlock(ctx))
	assert.ErrorIs(t, l.Unlock(ctx), ErrNotHeld)
	assert.Equal(t, 0, locks.Held())
}

// TestLocalLock_Expiry 测试租约过期后可被他人获取，旧持有者释放不影响新持有者
func TestLocalLock_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	locks := newTestLocal(WithClock(clock.Now))
	ctx := context.Background()

	old, err := locks.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	ttl, err := old.TTL(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, ttl)

	clock.Advance(2 * time.Second)
	_, err = old.TTL(ctx)
	assert.ErrorIs(t, err, ErrLockExpired)

	fresh, err := locks.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, old.Token(), fresh.Token())

	assert.ErrorIs(t, old.Unlock(ctx), ErrNotHeld)
	assert.Equal(t, 1, locks.Held())
	assert.NoError(t, fresh.Unlock(ctx))
}

// TestLocalLock_Acquire 测试阻塞获取
func TestLocalLock_Acquire(t *testing.T) {
	locks := newTestLocal()
	ctx := context.Background()

	held, err := locks.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	t.Run("times out while held", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := locks.Acquire(waitCtx, "k", time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("acquires after release", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = held.Unlock(ctx)
		}()
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		l, err := locks.Acquire(waitCtx, "k", time.Second)
		require.NoError(t, err)
		assert.NoError(t, l.Unlock(ctx))
	})
}

// TestLocalLock_ConcurrentTryAcquire 测试并发下同一 key 只有一个持有者
func TestLocalLock_ConcurrentTryAcquire(t *testing.T) {
	locks := newTestLocal()
	ctx := context.Background()

	const goroutines = 50
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := locks.TryAcquire(ctx, "contended", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
