package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/uid"
)

// pollInterval Acquire 等待锁时的轮询间隔
const pollInterval = 5 * time.Millisecond

// LocalLock 进程内的租约锁表，用于单进程部署和测试
// 租约到期后无需显式释放即可被其他调用方获取
type LocalLock struct {
	mu     sync.Mutex
	leases map[string]*localLease
	now    func() time.Time
	logger clog.Logger
}

type localLease struct {
	table     *LocalLock
	key       string
	token     string
	expiresAt time.Time
}

var _ DistributedLock = (*LocalLock)(nil)

// LocalOption 配置 LocalLock
type LocalOption func(*LocalLock)

// WithClock 替换时间源
func WithClock(now func() time.Time) LocalOption {
	return func(l *LocalLock) {
		l.now = now
	}
}

// WithLogger 注入日志
func WithLogger(logger clog.Logger) LocalOption {
	return func(l *LocalLock) {
		l.logger = logger
	}
}

// NewLocal 创建进程内锁
func NewLocal(opts ...LocalOption) *LocalLock {
	l := &LocalLock{
		leases: make(map[string]*localLease),
		now:    time.Now,
		logger: clog.Namespace("coord.lock.local"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire 轮询直到获取锁或 ctx 取消
func (l *LocalLock) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		lease, err := l.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, ErrLocked) {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryAcquire 非阻塞获取锁
func (l *LocalLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if key == "" {
		return nil, errors.New("lock key cannot be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, ErrLocked
	}

	lease := &localLease{
		table:     l,
		key:       key,
		token:     uid.NewToken(),
		expiresAt: now.Add(ttl),
	}
	l.leases[key] = lease
	l.logger.Debug("lock acquired", clog.String("key", key), clog.String("token", lease.token))
	return lease, nil
}

// Held 返回当前未过期的锁数量
func (l *LocalLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, lease := range l.leases {
		if now.Before(lease.expiresAt) {
			n++
		}
	}
	return n
}

// release 只删除仍由该令牌持有的条目，过期后被他人接管的锁不受影响
func (l *LocalLock) release(lease *localLease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.leases[lease.key]
	if !ok || held.token != lease.token {
		return ErrNotHeld
	}
	delete(l.leases, lease.key)
	l.logger.Debug("lock released", clog.String("key", lease.key), clog.String("token", lease.token))
	return nil
}

func (lease *localLease) Unlock(ctx context.Context) error {
	return lease.table.release(lease)
}

func (lease *localLease) TTL(ctx context.Context) (time.Duration, error) {
	lease.table.mu.Lock()
	defer lease.table.mu.Unlock()

	held, ok := lease.table.leases[lease.key]
	if !ok || held.token != lease.token {
		return 0, ErrNotHeld
	}
	remaining := held.expiresAt.Sub(lease.table.now())
	if remaining <= 0 {
		return 0, ErrLockExpired
	}
	return remaining, nil
}

func (lease *localLease) Key() string {
	return lease.key
}

func (lease *localLease) Token() string {
	return lease.token
}
