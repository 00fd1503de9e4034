// Package allocator 为 Snowflake 生成器分配集群内唯一的实例 ID
// 多个进程共用一个存储时，实例 ID 重复会产生重复的记录主键
package allocator

import (
	"context"
	"errors"
)

// ErrExhausted 所有实例 ID 都已被占用
var ErrExhausted = errors.New("no free instance id")

// InstanceIDAllocator 为一类服务的实例分配唯一的、随租约自动回收的 ID
type InstanceIDAllocator interface {
	// AcquireID 占用 [1, maxID] 中最小的空闲 ID
	AcquireID(ctx context.Context) (AllocatedID, error)
}

// AllocatedID 当前进程持有的实例 ID
// 进程异常退出时 ID 随租约过期释放
type AllocatedID interface {
	ID() int
	// Close 主动释放，幂等
	Close(ctx context.Context) error
}
