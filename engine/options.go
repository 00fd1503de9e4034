package engine

import (
	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/generator"
	"github.com/EatingXiGua/shortlink/uid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Options 引擎的可选依赖
type Options struct {
	Logger         clog.Logger
	Registerer     prometheus.Registerer
	Clock          generator.Clock
	IDs            uid.Provider
	TracerProvider trace.TracerProvider
}

// Option 函数式选项
type Option func(*Options)

// WithLogger 注入日志
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics 在 reg 上注册引擎指标，不设置时指标不注册
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// WithClock 替换候选生成和记录创建时间使用的时钟
func WithClock(clock generator.Clock) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithIDs 注入记录主键生成器，不设置时按开发环境配置创建
func WithIDs(ids uid.Provider) Option {
	return func(o *Options) {
		o.IDs = ids
	}
}

// WithTracerProvider 替换 TracerProvider，默认使用全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}
