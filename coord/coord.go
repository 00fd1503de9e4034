// Package coord 提供基于 etcd 的协调服务：分布式锁和标识符广播
package coord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/allocator"
	"github.com/EatingXiGua/shortlink/coord/feed"
	"github.com/EatingXiGua/shortlink/coord/internal/allocatorimpl"
	"github.com/EatingXiGua/shortlink/coord/internal/client"
	"github.com/EatingXiGua/shortlink/coord/internal/feedimpl"
	"github.com/EatingXiGua/shortlink/coord/internal/lockimpl"
	"github.com/EatingXiGua/shortlink/coord/lock"
	"go.uber.org/multierr"
)

// Provider 定义协调器的核心接口
type Provider interface {
	// Lock 获取分布式锁服务
	Lock() lock.DistributedLock
	// Feed 获取标识符广播服务
	Feed() feed.Feed
	// InstanceIDs 为指定服务创建实例 ID 分配器，ID 范围 [1, maxID]
	InstanceIDs(service string, maxID int) (allocator.InstanceIDAllocator, error)
	// Health 检查 etcd 连通性
	Health(ctx context.Context) error
	// Close 关闭协调器并释放资源
	Close() error
}

type coordinator struct {
	config *Config
	client *client.EtcdClient
	lock   lock.DistributedLock
	feed   feed.Feed
	logger clog.Logger
	closed bool
	mu     sync.RWMutex
}

// New 创建一个新的 coord Provider 实例
func New(ctx context.Context, config *Config, opts ...Option) (Provider, error) {
	options := parseOptions(opts)
	logger := options.Logger

	if err := config.Validate(); err != nil {
		logger.Error("invalid configuration", clog.Err(err))
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("creating new coordinator",
		clog.Strings("endpoints", config.Endpoints),
		clog.String("prefix", config.Prefix))

	etcdClient, err := client.New(client.Config{
		Endpoints: config.Endpoints,
		Username:  config.Username,
		Password:  config.Password,
		Timeout:   config.DialTimeout,
		RetryConfig: &client.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
		},
		Logger: logger.Namespace("client"),
	})
	if err != nil {
		logger.Error("failed to create etcd client", clog.Err(err))
		return nil, err
	}

	c := &coordinator{
		config: config,
		client: etcdClient,
		lock:   lockimpl.NewEtcdLockFactory(etcdClient, config.path("locks"), logger.Namespace("lock")),
		feed:   feedimpl.NewEtcdFeed(etcdClient, config.path("feed"), logger.Namespace("feed")),
		logger: logger,
	}

	logger.Info("coordinator created successfully")
	return c, nil
}

func (c *coordinator) Lock() lock.DistributedLock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lock
}

func (c *coordinator) Feed() feed.Feed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feed
}

func (c *coordinator) InstanceIDs(service string, maxID int) (allocator.InstanceIDAllocator, error) {
	if service == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("coordinator is closed")
	}
	a, err := allocatorimpl.NewEtcdAllocator(c.client, c.config.path("instances/"+service), maxID, 0,
		c.logger.Namespace("allocator"))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (c *coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if closer, ok := c.feed.(interface{ Close() error }); ok {
		err = multierr.Append(err, closer.Close())
	}
	if c.client != nil {
		err = multierr.Append(err, c.client.Close())
	}
	if err != nil {
		c.logger.Error("coordinator closed with errors", clog.Err(err))
		return err
	}
	c.logger.Info("coordinator closed successfully")
	return nil
}

func (c *coordinator) Health(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("coordinator is closed")
	}
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("etcd ping failed: %w", err)
	}
	return nil
}
