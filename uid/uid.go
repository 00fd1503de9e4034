// Package uid 生成记录主键（Snowflake）和锁持有者令牌（UUID v7）
package uid

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/uid/internal"
)

// Provider 唯一 ID 组件的主接口
type Provider interface {
	// NextID 生成 Snowflake 记录 ID，按时间递增
	NextID() (int64, error)

	// Token 生成 UUID v7 令牌，用于标识锁租约的持有者
	Token() string

	// Close 释放资源
	Close() error
}

type provider struct {
	config     *Config
	logger     clog.Logger
	snowflake  *internal.Snowflake
	instanceID int64
	closeOnce  sync.Once
}

// New 创建 uid 组件实例
func New(ctx context.Context, config *Config, opts ...Option) (Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid uid config: %w", err)
	}

	options := parseOptions(opts)

	instanceID := int64(config.InstanceID)
	if instanceID == 0 {
		// 0 表示自动分配，在 [1, MaxInstanceID] 中随机取一个
		instanceID = 1 + rand.Int64N(int64(config.MaxInstanceID))
	}

	sf, err := internal.NewSnowflake(instanceID, options.now)
	if err != nil {
		return nil, err
	}

	options.logger.Info("uid provider initialized",
		clog.String("service_name", config.ServiceName),
		clog.Int64("instance_id", instanceID))

	return &provider{
		config:     config,
		logger:     options.logger,
		snowflake:  sf,
		instanceID: instanceID,
	}, nil
}

func (p *provider) NextID() (int64, error) {
	return p.snowflake.Next()
}

func (p *provider) Token() string {
	return internal.NewToken()
}

func (p *provider) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Info("uid provider closed", clog.Int64("instance_id", p.instanceID))
	})
	return nil
}

// NewToken 不依赖 Provider 生成 UUID v7 令牌
func NewToken() string {
	return internal.NewToken()
}

// IsToken 校验令牌格式
func IsToken(s string) bool {
	return internal.IsToken(s)
}

// ParseID 拆解 Snowflake ID
func ParseID(id int64) (createdAt time.Time, instanceID, sequence int64) {
	_, instanceID, sequence = internal.Parse(id)
	return internal.TimeOf(id), instanceID, sequence
}
