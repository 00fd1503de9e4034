package boltstore

import (
	"fmt"
	"time"
)

// Config bbolt 存储配置
type Config struct {
	// Path 数据文件路径，所在目录不存在时自动创建
	Path string `json:"path" yaml:"path"`
	// OpenTimeout 获取文件锁的超时时间，另一个进程持有文件时生效
	OpenTimeout time.Duration `json:"openTimeout" yaml:"openTimeout"`
	// NoSync 跳过每次提交后的 fsync，只用于测试
	NoSync bool `json:"noSync,omitempty" yaml:"noSync,omitempty"`
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig(env string) *Config {
	switch env {
	case "production":
		return &Config{Path: "/var/lib/shortlink/identifiers.db", OpenTimeout: 5 * time.Second}
	default:
		return &Config{Path: "./data/identifiers.db", OpenTimeout: time.Second}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("boltstore config cannot be nil")
	}
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if c.OpenTimeout < 0 {
		return fmt.Errorf("open timeout cannot be negative")
	}
	return nil
}
