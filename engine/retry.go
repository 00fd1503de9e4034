package engine

import (
	"context"
	"time"

	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/cenkalti/backoff/v4"
)

// Allocator 分配接口，*Engine 实现了它
type Allocator interface {
	Allocate(ctx context.Context, req Request) (*Allocation, error)
}

var _ Allocator = (*Engine)(nil)

// NewBackOff 调用方重试的默认退避策略：总时长不超过 maxElapsed
func NewBackOff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return b
}

// AllocateWithBackoff 在调用方一侧按退避策略重试
// 只有 LockConflict 和 GenerationExhausted 会重试，其余错误立即返回
func AllocateWithBackoff(ctx context.Context, a Allocator, req Request, b backoff.BackOff) (*Allocation, error) {
	operation := func() (*Allocation, error) {
		alloc, err := a.Allocate(ctx, req)
		if err != nil && !errcode.Retriable(err) {
			return nil, backoff.Permanent(err)
		}
		return alloc, err
	}
	return backoff.RetryWithData(operation, backoff.WithContext(b, ctx))
}
