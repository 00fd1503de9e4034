package guard

import "fmt"

// NamespaceConfig 单个命名空间的过滤器容量
type NamespaceConfig struct {
	// Name 命名空间名称
	Name string `json:"name" yaml:"name"`
	// Capacity 预期元素数量，超过后误判率会上升
	Capacity uint `json:"capacity" yaml:"capacity"`
	// FalsePositiveRate 在 Capacity 个元素时的目标误判率
	FalsePositiveRate float64 `json:"falsePositiveRate" yaml:"falsePositiveRate"`
}

// Config 成员过滤器配置
type Config struct {
	Namespaces []NamespaceConfig `json:"namespaces" yaml:"namespaces"`
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig(env string) *Config {
	switch env {
	case "production":
		return &Config{Namespaces: []NamespaceConfig{
			{Name: "short-link-suffix", Capacity: 100_000_000, FalsePositiveRate: 0.001},
			{Name: "group-id", Capacity: 10_000_000, FalsePositiveRate: 0.001},
			{Name: "username", Capacity: 10_000_000, FalsePositiveRate: 0.001},
		}}
	default:
		return &Config{Namespaces: []NamespaceConfig{
			{Name: "short-link-suffix", Capacity: 100_000, FalsePositiveRate: 0.001},
			{Name: "group-id", Capacity: 10_000, FalsePositiveRate: 0.001},
			{Name: "username", Capacity: 10_000, FalsePositiveRate: 0.001},
		}}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("guard config cannot be nil")
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
		if ns.Capacity == 0 {
			return fmt.Errorf("namespace %q: capacity must be positive", ns.Name)
		}
		if ns.FalsePositiveRate <= 0 || ns.FalsePositiveRate >= 1 {
			return fmt.Errorf("namespace %q: false positive rate must be in (0, 1)", ns.Name)
		}
	}
	return nil
}
