package uid

import (
	"fmt"
	"os"
	"strconv"
)

// Config 定义 uid 组件的配置
type Config struct {
	ServiceName   string `json:"serviceName" yaml:"serviceName"`     // 服务名称，用于日志
	MaxInstanceID int    `json:"maxInstanceID" yaml:"maxInstanceID"` // 最大实例 ID，默认 1023
	InstanceID    int    `json:"instanceID" yaml:"instanceID"`       // 实例 ID，0 表示自动分配
}

// GetDefaultConfig 返回环境相关的默认配置，可被环境变量覆盖
func GetDefaultConfig(env string) *Config {
	config := &Config{
		ServiceName:   getEnvWithDefault("SHORTLINK_SERVICE_NAME", "shortlink"),
		MaxInstanceID: getEnvIntWithDefault("SHORTLINK_MAX_INSTANCE_ID", 1023),
		InstanceID:    getEnvIntWithDefault("SHORTLINK_INSTANCE_ID", 0),
	}

	// 开发环境单实例，固定使用 1 方便排查
	if env == "development" && config.InstanceID == 0 {
		config.InstanceID = 1
	}

	return config
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("uid config cannot be nil")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.MaxInstanceID <= 0 || c.MaxInstanceID > 1023 {
		return fmt.Errorf("max instance id must be in range 1-1023")
	}
	if c.InstanceID < 0 || c.InstanceID > c.MaxInstanceID {
		return fmt.Errorf("instance id must be in range 0-%d (0 means auto)", c.MaxInstanceID)
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
