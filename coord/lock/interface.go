// Package lock 定义按 key 互斥的租约锁
// 锁的 key 由调用方拼接为 namespace + ":" + identifier，不同 key 之间互不竞争
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocked 非阻塞获取时锁已被其他持有者占用
	ErrLocked = errors.New("lock is already held")
	// ErrNotHeld 锁已释放或租约已过期，Unlock 重复调用时返回
	ErrNotHeld = errors.New("lock is not held")
	// ErrLockExpired 租约已过期
	ErrLockExpired = errors.New("lock has expired")
)

// DistributedLock 分布式锁服务接口
type DistributedLock interface {
	// Acquire 阻塞获取锁，直到成功或 ctx 取消
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
	// TryAcquire 非阻塞获取锁，锁被占用时立即返回匹配 ErrLocked 的错误
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock 已获取的锁租约
type Lock interface {
	// Unlock 释放锁；第二次调用返回 ErrNotHeld 且没有副作用
	Unlock(ctx context.Context) error
	// TTL 返回租约剩余有效时间
	TTL(ctx context.Context) (time.Duration, error)
	// Key 返回锁的 key
	Key() string
	// Token 返回持有者令牌
	Token() string
}
