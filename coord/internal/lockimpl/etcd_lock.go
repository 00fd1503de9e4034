package lockimpl

import (
	"context"
	"errors"
	"math"
	"path"
	"sync"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/internal/client"
	"github.com/EatingXiGua/shortlink/coord/lock"
	"github.com/EatingXiGua/shortlink/uid"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLockFactory 基于 etcd concurrency.Mutex 的分布式锁
// 每次获取都会创建独立的会话（租约），释放时关闭会话撤销租约
type EtcdLockFactory struct {
	client *client.EtcdClient
	prefix string
	logger clog.Logger
}

var _ lock.DistributedLock = (*EtcdLockFactory)(nil)

// NewEtcdLockFactory 创建 etcd 分布式锁工厂
func NewEtcdLockFactory(c *client.EtcdClient, prefix string, logger clog.Logger) *EtcdLockFactory {
	if prefix == "" {
		prefix = "/locks"
	}
	if logger == nil {
		logger = clog.Namespace("coord.lock")
	}
	return &EtcdLockFactory{
		client: c,
		prefix: prefix,
		logger: logger,
	}
}

// Acquire 阻塞直到获取锁或 ctx 取消
func (f *EtcdLockFactory) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return f.acquire(ctx, key, ttl, true)
}

// TryAcquire 非阻塞获取锁，被占用时返回的错误匹配 lock.ErrLocked
func (f *EtcdLockFactory) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	return f.acquire(ctx, key, ttl, false)
}

// sessionTTL etcd 租约以秒为单位，不足一秒向上取整
func sessionTTL(ttl time.Duration) int {
	return max(1, int(math.Ceil(ttl.Seconds())))
}

func (f *EtcdLockFactory) acquire(ctx context.Context, key string, ttl time.Duration, blocking bool) (lock.Lock, error) {
	if key == "" {
		return nil, client.NewError(client.ErrCodeValidation, "lock key cannot be empty", nil)
	}
	if ttl <= 0 {
		return nil, client.NewError(client.ErrCodeValidation, "lock ttl must be positive", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 会话不绑定调用方 ctx，否则 ctx 取消后 Close 无法撤销租约
	session, err := concurrency.NewSession(f.client.Client(), concurrency.WithTTL(sessionTTL(ttl)))
	if err != nil {
		return nil, client.NewError(client.ErrCodeConnection, "failed to create etcd session", err)
	}

	mutex := concurrency.NewMutex(session, path.Join(f.prefix, key))

	f.logger.Debug("尝试获取锁",
		clog.String("key", key),
		clog.Int64("lease", int64(session.Lease())),
		clog.Bool("blocking", blocking))

	var lockErr error
	if blocking {
		lockErr = mutex.Lock(ctx)
	} else {
		lockErr = mutex.TryLock(ctx)
	}
	if lockErr != nil {
		_ = session.Close()
		switch {
		case errors.Is(lockErr, concurrency.ErrLocked):
			return nil, client.NewError(client.ErrCodeConflict, "lock is already held", lock.ErrLocked)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, client.NewError(client.ErrCodeConnection, "failed to acquire lock", lockErr)
		}
	}

	l := &EtcdLock{
		key:     key,
		token:   uid.NewToken(),
		session: session,
		mutex:   mutex,
		client:  f.client,
		logger:  f.logger,
	}
	f.logger.Debug("锁获取成功",
		clog.String("key", key),
		clog.String("token", l.token),
		clog.Int64("lease", int64(session.Lease())))
	return l, nil
}

// EtcdLock 已持有的 etcd 锁
type EtcdLock struct {
	key     string
	token   string
	session *concurrency.Session
	mutex   *concurrency.Mutex
	client  *client.EtcdClient
	logger  clog.Logger

	mu       sync.Mutex
	released bool
}

// Unlock 删除锁 key 并撤销租约，重复调用返回 lock.ErrNotHeld
func (l *EtcdLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return lock.ErrNotHeld
	}
	l.released = true

	if err := l.mutex.Unlock(ctx); err != nil {
		// 删除失败时仍要撤销租约，锁 key 随租约一起消失
		_ = l.session.Close()
		return client.NewError(client.ErrCodeConnection, "failed to unlock mutex", err)
	}
	if err := l.session.Close(); err != nil {
		return client.NewError(client.ErrCodeConnection, "failed to close session", err)
	}

	l.logger.Debug("锁释放成功", clog.String("key", l.key), clog.String("token", l.token))
	return nil
}

// TTL 返回租约剩余时间
func (l *EtcdLock) TTL(ctx context.Context) (time.Duration, error) {
	select {
	case <-l.session.Done():
		return 0, lock.ErrLockExpired
	default:
	}

	ttl, err := l.client.TimeToLive(ctx, l.session.Lease())
	if client.IsCode(err, client.ErrCodeNotFound) {
		return 0, lock.ErrLockExpired
	}
	return ttl, err
}

// Key 返回调用方传入的逻辑 key
func (l *EtcdLock) Key() string {
	return l.key
}

// Token 返回持有者令牌
func (l *EtcdLock) Token() string {
	return l.token
}

// Path 返回锁在 etcd 中的完整键路径（含租约后缀）
func (l *EtcdLock) Path() string {
	return l.mutex.Key()
}
