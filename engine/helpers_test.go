package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/lock"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/EatingXiGua/shortlink/generator"
	"github.com/EatingXiGua/shortlink/guard"
	"github.com/EatingXiGua/shortlink/store"
	"github.com/EatingXiGua/shortlink/store/memstore"
	"github.com/EatingXiGua/shortlink/uid"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() generator.Clock {
	return generator.ClockFunc(func() time.Time { return fixedNow })
}

func newTestIDs(t *testing.T) uid.Provider {
	t.Helper()
	ids, err := uid.New(context.Background(),
		&uid.Config{ServiceName: "engine-test", MaxInstanceID: 1023, InstanceID: 1},
		uid.WithLogger(clog.Nop()))
	require.NoError(t, err)
	return ids
}

func newTestGuard(t *testing.T) *guard.Bloom {
	t.Helper()
	g, err := guard.NewBloom(guard.GetDefaultConfig("development"), clog.Nop())
	require.NoError(t, err)
	return g
}

func newTestEngine(t *testing.T, st store.Store, g guard.Guard, locks lock.DistributedLock, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithLogger(clog.Nop()), WithIDs(newTestIDs(t))}
	e, err := New(context.Background(), GetDefaultConfig("development"), st, g, locks, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func shortLinkRequest() Request {
	return Request{
		Namespace: NamespaceShortLink,
		Seed:      "https://example.com/a",
		Domain:    "s.ly",
	}
}

// countingLocks 记录每个租约被释放的次数
type countingLocks struct {
	inner  *lock.LocalLock
	mu     sync.Mutex
	leases []*countingLease
}

type countingLease struct {
	lock.Lock
	unlocks atomic.Int32
}

func newCountingLocks() *countingLocks {
	return &countingLocks{inner: lock.NewLocal(lock.WithLogger(clog.Nop()))}
}

func (c *countingLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return c.wrap(c.inner.Acquire(ctx, key, ttl))
}

func (c *countingLocks) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return c.wrap(c.inner.TryAcquire(ctx, key, ttl))
}

func (c *countingLocks) wrap(l lock.Lock, err error) (lock.Lock, error) {
	if err != nil {
		return nil, err
	}
	lease := &countingLease{Lock: l}
	c.mu.Lock()
	c.leases = append(c.leases, lease)
	c.mu.Unlock()
	return lease, nil
}

func (l *countingLease) Unlock(ctx context.Context) error {
	l.unlocks.Add(1)
	return l.Lock.Unlock(ctx)
}

func (c *countingLocks) snapshot() []*countingLease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*countingLease(nil), c.leases...)
}

// noLocks 总是获取成功，用于验证存储唯一约束是最终裁决
type noLocks struct{}

type noLease struct{ key string }

func (noLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return noLease{key: key}, nil
}

func (noLocks) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return noLease{key: key}, nil
}

func (noLease) Unlock(context.Context) error { return nil }
func (noLease) TTL(context.Context) (time.Duration, error) { return time.Second, nil }
func (l noLease) Key() string { return l.key }
func (noLease) Token() string { return "none" }

// failingLocks 模拟锁服务不可用
type failingLocks struct{}

func (failingLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return nil, errors.New("etcd unreachable")
}

func (failingLocks) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return nil, errors.New("etcd unreachable")
}

// stubStore 可配置的存储替身
type stubStore struct {
	insertErr  error
	findRecord *store.Record
	findErr    error
	inserts    atomic.Int32
	finds      atomic.Int32
}

func (s *stubStore) Insert(ctx context.Context, record store.Record) error {
	s.inserts.Add(1)
	return s.insertErr
}

func (s *stubStore) FindByKey(ctx context.Context, namespace, key string) (store.Record, bool, error) {
	s.finds.Add(1)
	if s.findErr != nil {
		return store.Record{}, false, s.findErr
	}
	if s.findRecord == nil {
		return store.Record{}, false, nil
	}
	return *s.findRecord, true, nil
}

func (s *stubStore) Scan(ctx context.Context, namespace string, fn func(store.Record) error) error {
	return nil
}

// blockingStore Insert 阻塞直到 ctx 取消
type blockingStore struct {
	stubStore
	entered chan struct{}
}

func (s *blockingStore) Insert(ctx context.Context, record store.Record) error {
	close(s.entered)
	<-ctx.Done()
	return ctx.Err()
}

// alwaysPositive 过滤器总是报告可能存在
type alwaysPositive struct {
	checks atomic.Int32
}

func (g *alwaysPositive) MightExist(namespace, id string) bool {
	g.checks.Add(1)
	return true
}

func (g *alwaysPositive) MarkExists(ctx context.Context, namespace, id string) error {
	return nil
}

// neverPositive 过滤器从不命中，也不记录
type neverPositive struct{}

func (neverPositive) MightExist(namespace, id string) bool { return false }
func (neverPositive) MarkExists(ctx context.Context, namespace, id string) error { return nil }

// unmarkableGuard 登记总是失败
type unmarkableGuard struct {
	neverPositive
}

func (unmarkableGuard) MarkExists(ctx context.Context, namespace, id string) error {
	return errcode.New(errcode.GuardUnavailable, "feed down", nil)
}

// panickingStore Insert 直接 panic，用于验证 panic 展开时的收尾逻辑
type panickingStore struct {
	*memstore.Store
}

func (panickingStore) Insert(ctx context.Context, record store.Record) error {
	panic("insert exploded")
}

// partlyCorruptStore 指定命名空间遍历结束后报告有记录无法读取
type partlyCorruptStore struct {
	*memstore.Store
	corrupt string
}

func (s partlyCorruptStore) Scan(ctx context.Context, namespace string, fn func(store.Record) error) error {
	if err := s.Store.Scan(ctx, namespace, fn); err != nil {
		return err
	}
	if namespace == s.corrupt {
		return errcode.Newf(errcode.StoreInconsistency, "1 undecodable records skipped in namespace %q", namespace)
	}
	return nil
}
