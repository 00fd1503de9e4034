package uid

import (
	"time"

	"github.com/EatingXiGua/shortlink/clog"
)

// Options uid 组件的可选依赖
type Options struct {
	logger clog.Logger
	now    func() time.Time
}

// Option 函数式选项
type Option func(*Options)

// WithLogger 注入日志依赖
func WithLogger(logger clog.Logger) Option {
	return func(opts *Options) {
		opts.logger = logger
	}
}

// WithClock 替换时间源，测试中用于构造时钟回拨
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.now = now
	}
}

func parseOptions(opts []Option) *Options {
	result := &Options{
		logger: clog.Namespace("uid"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}
