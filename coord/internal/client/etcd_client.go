package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// ============================================================================
// 配置
// ============================================================================

// Config etcd 客户端配置
type Config struct {
	// Endpoints etcd 服务器地址列表
	Endpoints []string `json:"endpoints"`

	// Username etcd 用户名（可选）
	Username string `json:"username,omitempty"`

	// Password etcd 密码（可选）
	Password string `json:"password,omitempty"`

	// Timeout 连接超时时间
	Timeout time.Duration `json:"timeout"`

	// RetryConfig 重试配置，为空时不重试
	RetryConfig *RetryConfig `json:"retry_config,omitempty"`

	// Logger 可选的日志记录器
	Logger clog.Logger `json:"-"`
}

// RetryConfig 重试机制配置
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// ============================================================================
// 错误
// ============================================================================

// ErrorCode 协调服务错误码
type ErrorCode string

const (
	ErrCodeConnection  ErrorCode = "CONNECTION_ERROR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeConflict    ErrorCode = "CONFLICT"
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error 协调服务错误类型
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建协调服务错误
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode 判断错误链上是否有指定错误码
func IsCode(err error, code ErrorCode) bool {
	var coordErr *Error
	return errors.As(err, &coordErr) && coordErr.Code == code
}

// ============================================================================
// 配置验证
// ============================================================================

// Validate 验证配置有效性
func (cfg *Config) Validate() error {
	if len(cfg.Endpoints) == 0 {
		return NewError(ErrCodeValidation, "endpoints cannot be empty", nil)
	}

	for _, endpoint := range cfg.Endpoints {
		if !isValidEndpoint(endpoint) {
			return NewError(ErrCodeValidation, "invalid endpoint format", nil)
		}
	}

	if cfg.Timeout <= 0 {
		return NewError(ErrCodeValidation, "timeout must be positive", nil)
	}

	if cfg.RetryConfig != nil {
		return cfg.RetryConfig.validate()
	}

	return nil
}

// isValidEndpoint 校验 host:port 格式
func isValidEndpoint(endpoint string) bool {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return port > 0 && port <= 65535
}

func (rc *RetryConfig) validate() error {
	if rc.MaxAttempts < 0 {
		return NewError(ErrCodeValidation, "max_attempts cannot be negative", nil)
	}
	if rc.InitialDelay <= 0 {
		return NewError(ErrCodeValidation, "initial_delay must be positive", nil)
	}
	if rc.MaxDelay <= 0 {
		return NewError(ErrCodeValidation, "max_delay must be positive", nil)
	}
	if rc.Multiplier <= 1.0 {
		return NewError(ErrCodeValidation, "multiplier must be greater than 1.0", nil)
	}
	return nil
}

// ============================================================================
// EtcdClient
// ============================================================================

// EtcdClient etcd 客户端封装，提供重试和统一的错误码
type EtcdClient struct {
	client      *clientv3.Client
	retryConfig *RetryConfig
	logger      clog.Logger
}

// New 创建 etcd 客户端并验证连通性
func New(cfg Config) (*EtcdClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	raw, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.Timeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, NewError(ErrCodeConnection, "failed to create etcd client", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := raw.Status(ctx, cfg.Endpoints[0]); err != nil {
		raw.Close()
		return nil, NewError(ErrCodeConnection, "failed to connect to etcd", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = clog.Namespace("coord.client")
	}
	logger.Info("etcd client created", clog.Strings("endpoints", cfg.Endpoints))

	return &EtcdClient{
		client:      raw,
		retryConfig: cfg.RetryConfig,
		logger:      logger,
	}, nil
}

// Client 返回原始 etcd 客户端
func (c *EtcdClient) Client() *clientv3.Client {
	return c.client
}

// Close 关闭客户端连接
func (c *EtcdClient) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		c.logger.Error("failed to close etcd client", clog.Err(err))
		return NewError(ErrCodeConnection, "failed to close etcd client", err)
	}
	c.logger.Info("etcd client closed")
	return nil
}

// Ping 与集群同步一次成员信息，作为健康检查
func (c *EtcdClient) Ping(ctx context.Context) error {
	return c.executeWithRetry(ctx, func() error {
		if err := c.client.Sync(ctx); err != nil {
			return NewError(ErrCodeConnection, "etcd ping failed", err)
		}
		return nil
	})
}

// ============================================================================
// 重试
// ============================================================================

// executeWithRetry 按指数退避执行操作，NotFound / Validation / Conflict 不重试
func (c *EtcdClient) executeWithRetry(ctx context.Context, operation func() error) error {
	if c.retryConfig == nil || c.retryConfig.MaxAttempts <= 1 {
		return operation()
	}

	var lastErr error
	delay := c.retryConfig.InitialDelay

	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				c.logger.Info("operation succeeded after retry", clog.Int("attempt", attempt+1))
			}
			return nil
		}
		if shouldNotRetry(lastErr) {
			return lastErr
		}

		c.logger.Warn("operation failed, will retry",
			clog.Int("attempt", attempt+1),
			clog.Int("max_attempts", c.retryConfig.MaxAttempts),
			clog.Duration("delay", delay),
			clog.Err(lastErr))

		if attempt < c.retryConfig.MaxAttempts-1 {
			if ctx.Err() != nil {
				return NewError(ErrCodeTimeout, "context cancelled during retry", ctx.Err())
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return NewError(ErrCodeTimeout, "context cancelled during retry", ctx.Err())
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * c.retryConfig.Multiplier)
			if delay > c.retryConfig.MaxDelay {
				delay = c.retryConfig.MaxDelay
			}
		}
	}

	c.logger.Error("operation failed after all retries",
		clog.Int("max_attempts", c.retryConfig.MaxAttempts),
		clog.Err(lastErr))
	return lastErr
}

func shouldNotRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsCode(err, ErrCodeNotFound) || IsCode(err, ErrCodeValidation) || IsCode(err, ErrCodeConflict)
}

// ============================================================================
// KV 操作
// ============================================================================

// Put 设置键值对
func (c *EtcdClient) Put(ctx context.Context, key, value string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	var resp *clientv3.PutResponse
	err := c.executeWithRetry(ctx, func() error {
		var err error
		resp, err = c.client.Put(ctx, key, value, opts...)
		if err != nil {
			return NewError(ErrCodeConnection, "etcd put operation failed", err)
		}
		return nil
	})
	return resp, err
}

// Get 获取键值对
func (c *EtcdClient) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	var resp *clientv3.GetResponse
	err := c.executeWithRetry(ctx, func() error {
		var err error
		resp, err = c.client.Get(ctx, key, opts...)
		if err != nil {
			return NewError(ErrCodeConnection, "etcd get operation failed", err)
		}
		return nil
	})
	return resp, err
}

// Delete 删除键
func (c *EtcdClient) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	var resp *clientv3.DeleteResponse
	err := c.executeWithRetry(ctx, func() error {
		var err error
		resp, err = c.client.Delete(ctx, key, opts...)
		if err != nil {
			return NewError(ErrCodeConnection, "etcd delete operation failed", err)
		}
		return nil
	})
	return resp, err
}

// PutIfAbsent 仅当 key 从未创建过时写入，返回是否真正写入
// 使用 CreateRevision == 0 的事务保证并发写入只有一个成功
func (c *EtcdClient) PutIfAbsent(ctx context.Context, key, value string, opts ...clientv3.OpOption) (bool, error) {
	var created bool
	err := c.executeWithRetry(ctx, func() error {
		resp, err := c.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
			Then(clientv3.OpPut(key, value, opts...)).
			Commit()
		if err != nil {
			return NewError(ErrCodeConnection, "etcd txn commit failed", err)
		}
		created = resp.Succeeded
		return nil
	})
	return created, err
}

// Watch 监听键变化（不重试，由调用方处理 compaction 等错误）
func (c *EtcdClient) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	return c.client.Watch(ctx, key, opts...)
}

// TimeToLive 查询租约剩余时间
func (c *EtcdClient) TimeToLive(ctx context.Context, id clientv3.LeaseID) (time.Duration, error) {
	resp, err := c.client.TimeToLive(ctx, id)
	if err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return 0, NewError(ErrCodeNotFound, "lease not found (already expired)", err)
		}
		return 0, NewError(ErrCodeConnection, "failed to query lease ttl", err)
	}
	if resp.TTL <= 0 {
		return 0, NewError(ErrCodeNotFound, "lease has expired", nil)
	}
	return time.Duration(resp.TTL) * time.Second, nil
}
