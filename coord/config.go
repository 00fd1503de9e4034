package coord

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 coord 组件的配置结构体
type Config struct {
	// Endpoints 是 etcd 集群的地址列表
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// DialTimeout 是连接 etcd 的超时时间
	DialTimeout time.Duration `json:"dialTimeout" yaml:"dialTimeout"`

	// Username 是认证用户名，可选
	Username string `json:"username,omitempty" yaml:"username,omitempty"`

	// Password 是认证密码，可选
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// Prefix 是所有 key 的根路径，锁位于 <Prefix>/locks，标识符广播位于 <Prefix>/feed
	Prefix string `json:"prefix" yaml:"prefix"`
}

// GetDefaultConfig 返回默认的 coord 配置
func GetDefaultConfig(env string) *Config {
	switch env {
	case "production":
		return &Config{
			Endpoints:   []string{"etcd1:2379", "etcd2:2379", "etcd3:2379"},
			DialTimeout: 10 * time.Second,
			Prefix:      "/shortlink",
		}
	default:
		return &Config{
			Endpoints:   []string{"localhost:2379"},
			DialTimeout: 5 * time.Second,
			Prefix:      "/shortlink",
		}
	}
}

// Validate 验证协调器配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be specified")
	}
	for i, endpoint := range c.Endpoints {
		if endpoint == "" {
			return fmt.Errorf("endpoint %d cannot be empty", i)
		}
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		return fmt.Errorf("prefix must start with '/'")
	}
	return nil
}

func (c *Config) path(name string) string {
	return strings.TrimSuffix(c.Prefix, "/") + "/" + name
}
