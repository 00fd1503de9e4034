package engine

import (
	"fmt"
	"time"

	"github.com/EatingXiGua/shortlink/generator"
)

// 命名空间名称
const (
	NamespaceShortLink = "short-link-suffix"
	NamespaceGroupID   = "group-id"
	NamespaceUsername  = "username"
)

// DefaultMaxAttempts 未配置时每次分配最多生成的候选数量
const DefaultMaxAttempts = 10

// NamespaceConfig 单个命名空间的生成策略
type NamespaceConfig struct {
	// Name 命名空间名称
	Name string `json:"name" yaml:"name"`
	// Strategy 候选生成策略：hash / random / explicit
	Strategy generator.Strategy `json:"strategy" yaml:"strategy"`
	// Length 候选长度，0 使用生成器默认值
	Length int `json:"length,omitempty" yaml:"length,omitempty"`
	// MaxAttempts 覆盖全局重试次数，0 表示沿用 Config.DefaultMaxAttempts
	MaxAttempts int `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	// Qualified 为 true 时完整标识符为 domain + "/" + 候选，请求必须携带 Domain
	Qualified bool `json:"qualified,omitempty" yaml:"qualified,omitempty"`
}

// Config 分配引擎配置
type Config struct {
	// DefaultMaxAttempts 全局默认重试次数
	DefaultMaxAttempts int `json:"defaultMaxAttempts" yaml:"defaultMaxAttempts"`
	// LockTTL 锁租约有效期，应覆盖一次存储写入的耗时
	LockTTL time.Duration `json:"lockTTL" yaml:"lockTTL"`
	// ReleaseTimeout 释放锁和登记过滤器的超时，不受调用方 ctx 取消影响
	ReleaseTimeout time.Duration `json:"releaseTimeout" yaml:"releaseTimeout"`
	// Namespaces 已配置的命名空间
	Namespaces []NamespaceConfig `json:"namespaces" yaml:"namespaces"`
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig(env string) *Config {
	cfg := &Config{
		DefaultMaxAttempts: DefaultMaxAttempts,
		LockTTL:            5 * time.Second,
		ReleaseTimeout:     2 * time.Second,
		Namespaces: []NamespaceConfig{
			{Name: NamespaceShortLink, Strategy: generator.StrategyHash, Length: 6, Qualified: true},
			{Name: NamespaceGroupID, Strategy: generator.StrategyRandom, Length: 6},
			{Name: NamespaceUsername, Strategy: generator.StrategyExplicit},
		},
	}
	if env == "production" {
		cfg.LockTTL = 10 * time.Second
		cfg.ReleaseTimeout = 5 * time.Second
	}
	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("engine config cannot be nil")
	}
	if c.DefaultMaxAttempts < 0 {
		return fmt.Errorf("default max attempts cannot be negative")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	if c.ReleaseTimeout <= 0 {
		return fmt.Errorf("release timeout must be positive")
	}
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("at least one namespace must be configured")
	}

	seen := make(map[string]struct{}, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("namespace name cannot be empty")
		}
		if _, dup := seen[ns.Name]; dup {
			return fmt.Errorf("namespace %q configured twice", ns.Name)
		}
		seen[ns.Name] = struct{}{}
		if !ns.Strategy.Valid() {
			return fmt.Errorf("namespace %q: unknown strategy %q", ns.Name, ns.Strategy)
		}
		if ns.Length < 0 {
			return fmt.Errorf("namespace %q: length cannot be negative", ns.Name)
		}
		if limit := maxLength(ns.Strategy); limit > 0 && ns.Length > limit {
			return fmt.Errorf("namespace %q: %s length cannot exceed %d", ns.Name, ns.Strategy, limit)
		}
		if ns.MaxAttempts < 0 {
			return fmt.Errorf("namespace %q: max attempts cannot be negative", ns.Name)
		}
	}
	return nil
}

// maxLength 策略允许的最大长度，0 表示不限制
func maxLength(s generator.Strategy) int {
	switch s {
	case generator.StrategyHash:
		return generator.MaxHashLength
	case generator.StrategyRandom:
		return generator.MaxRandomLength
	default:
		return 0
	}
}

// maxAttempts 请求 > 命名空间 > 全局 > DefaultMaxAttempts
func (c *Config) maxAttempts(ns NamespaceConfig, requested int) int {
	switch {
	case requested > 0:
		return requested
	case ns.MaxAttempts > 0:
		return ns.MaxAttempts
	case c.DefaultMaxAttempts > 0:
		return c.DefaultMaxAttempts
	default:
		return DefaultMaxAttempts
	}
}
