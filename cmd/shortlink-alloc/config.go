package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord"
	"github.com/EatingXiGua/shortlink/engine"
	"github.com/EatingXiGua/shortlink/guard"
	"github.com/EatingXiGua/shortlink/store/boltstore"
	"github.com/EatingXiGua/shortlink/uid"
	"gopkg.in/yaml.v3"
)

const (
	envName          = "SHORTLINK_ENV"
	envEtcdEndpoints = "SHORTLINK_ETCD_ENDPOINTS"
)

// TracingConfig 链路追踪输出
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Output 为空时写标准输出
	Output string `yaml:"output,omitempty"`
}

// FileConfig 命令行工具的完整配置文件
// Coord 为空时使用进程内的锁和过滤器，适合单机运行
type FileConfig struct {
	Env     string            `yaml:"env"`
	Log     *clog.Config      `yaml:"log"`
	Engine  *engine.Config    `yaml:"engine"`
	Guard   *guard.Config     `yaml:"guard"`
	Store   *boltstore.Config `yaml:"store"`
	UID     *uid.Config       `yaml:"uid"`
	Coord   *coord.Config     `yaml:"coord,omitempty"`
	Tracing TracingConfig     `yaml:"tracing"`
}

// DefaultFileConfig 按环境生成各组件的默认配置
func DefaultFileConfig(env string) *FileConfig {
	env = normalizeEnv(env)
	return &FileConfig{
		Env:    env,
		Log:    clog.GetDefaultConfig(env),
		Engine: engine.GetDefaultConfig(env),
		Guard:  guard.GetDefaultConfig(env),
		Store:  boltstore.GetDefaultConfig(env),
		UID:    uid.GetDefaultConfig(env),
	}
}

// LoadConfig 读取 YAML 配置，文件中缺省的段落沿用环境默认值
// 环境变量优先级最高：SHORTLINK_ENV 选择默认值，SHORTLINK_ETCD_ENDPOINTS 启用 etcd
func LoadConfig(path, env string) (*FileConfig, error) {
	if v := os.Getenv(envName); v != "" {
		env = v
	}

	var raw []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		raw = data
		if env == "" {
			var head struct {
				Env string `yaml:"env"`
			}
			if err := yaml.Unmarshal(data, &head); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			env = head.Env
		}
	}

	cfg := DefaultFileConfig(env)
	if raw != nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		// env 已在读取默认值前确定，文件中的 env 字段不再覆盖
		cfg.Env = normalizeEnv(env)
	}

	if v := os.Getenv(envEtcdEndpoints); v != "" {
		if cfg.Coord == nil {
			cfg.Coord = coord.GetDefaultConfig(cfg.Env)
		}
		cfg.Coord.Endpoints = splitEndpoints(v)
	}
	if cfg.Coord != nil {
		// 文件里只写了 endpoints 时补齐其余字段
		def := coord.GetDefaultConfig(cfg.Env)
		if cfg.Coord.DialTimeout == 0 {
			cfg.Coord.DialTimeout = def.DialTimeout
		}
		if cfg.Coord.Prefix == "" {
			cfg.Coord.Prefix = def.Prefix
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 逐个校验各组件配置
func (c *FileConfig) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("guard: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.UID.Validate(); err != nil {
		return fmt.Errorf("uid: %w", err)
	}
	if c.Coord != nil {
		if err := c.Coord.Validate(); err != nil {
			return fmt.Errorf("coord: %w", err)
		}
	}

	guarded := make(map[string]struct{}, len(c.Guard.Namespaces))
	for _, ns := range c.Guard.Namespaces {
		guarded[ns.Name] = struct{}{}
	}
	for _, ns := range c.Engine.Namespaces {
		if _, ok := guarded[ns.Name]; !ok {
			return fmt.Errorf("namespace %q has no guard configuration", ns.Name)
		}
	}
	return nil
}

func normalizeEnv(env string) string {
	if env == "" {
		return "development"
	}
	return env
}

func splitEndpoints(s string) []string {
	var endpoints []string
	for _, ep := range strings.Split(s, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints
}
