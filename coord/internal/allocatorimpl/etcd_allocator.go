package allocatorimpl

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/allocator"
	"github.com/EatingXiGua/shortlink/coord/internal/client"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// DefaultLeaseTTL 进程失联后实例 ID 被回收的时间
const DefaultLeaseTTL = 30 * time.Second

// EtcdAllocator 基于租约的实例 ID 分配器
// 每个 ID 占用 <basePath>/<id> 一个 key，key 绑定在独立的 session 租约上
type EtcdAllocator struct {
	client   *client.EtcdClient
	basePath string
	maxID    int
	ttl      time.Duration
	logger   clog.Logger
}

var _ allocator.InstanceIDAllocator = (*EtcdAllocator)(nil)

// NewEtcdAllocator 创建实例 ID 分配器，ttl 为 0 时使用 DefaultLeaseTTL
func NewEtcdAllocator(c *client.EtcdClient, basePath string, maxID int, ttl time.Duration, logger clog.Logger) (*EtcdAllocator, error) {
	if basePath == "" {
		return nil, client.NewError(client.ErrCodeValidation, "base path cannot be empty", nil)
	}
	if maxID <= 0 {
		return nil, client.NewError(client.ErrCodeValidation, "max ID must be positive", nil)
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = clog.Namespace("coord.allocator")
	}
	return &EtcdAllocator{
		client:   c,
		basePath: basePath,
		maxID:    maxID,
		ttl:      ttl,
		logger:   logger.With(clog.String("path", basePath)),
	}, nil
}

// AcquireID 从 1 开始依次尝试，占用第一个空闲的 ID
func (a *EtcdAllocator) AcquireID(ctx context.Context) (allocator.AllocatedID, error) {
	if err := ctx.Err(); err != nil {
		return nil, client.NewError(client.ErrCodeTimeout, "acquire cancelled", err)
	}

	// session 不绑定调用方 ctx，保证 ID 在进程存活期间持续续租
	session, err := concurrency.NewSession(a.client.Client(),
		concurrency.WithTTL(max(1, int(math.Ceil(a.ttl.Seconds())))))
	if err != nil {
		return nil, client.NewError(client.ErrCodeConnection, "failed to create etcd session", err)
	}

	for id := 1; id <= a.maxID; id++ {
		key := a.key(id)
		ok, err := a.client.PutIfAbsent(ctx, key, strconv.Itoa(id), clientv3.WithLease(session.Lease()))
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		if !ok {
			continue
		}

		a.logger.Info("instance id acquired",
			clog.Int("id", id),
			clog.Int64("lease", int64(session.Lease())))
		return &allocatedID{
			id:      id,
			key:     key,
			client:  a.client,
			session: session,
			logger:  a.logger.With(clog.Int("id", id)),
		}, nil
	}

	_ = session.Close()
	return nil, client.NewError(client.ErrCodeConflict,
		fmt.Sprintf("all %d instance ids are taken", a.maxID), allocator.ErrExhausted)
}

func (a *EtcdAllocator) key(id int) string {
	return a.basePath + "/" + strconv.Itoa(id)
}

type allocatedID struct {
	id      int
	key     string
	client  *client.EtcdClient
	session *concurrency.Session
	logger  clog.Logger

	once sync.Once
	err  error
}

func (a *allocatedID) ID() int {
	return a.id
}

// Close 删除 key 并撤销租约；删除失败时租约撤销同样会回收 key
func (a *allocatedID) Close(ctx context.Context) error {
	a.once.Do(func() {
		if _, err := a.client.Delete(ctx, a.key); err != nil {
			a.logger.Warn("failed to delete instance id key", clog.Err(err))
			a.err = err
		}
		if err := a.session.Close(); err != nil && a.err == nil {
			a.err = client.NewError(client.ErrCodeConnection, "failed to revoke instance id lease", err)
		}
		if a.err == nil {
			a.logger.Info("instance id released")
		}
	})
	return a.err
}
