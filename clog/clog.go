// Package clog 是基于 zap 的结构化日志组件
// 所有组件通过 clog.Logger 记录日志，并用 Namespace 区分模块层次
package clog

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/EatingXiGua/shortlink/clog/internal"
	"go.uber.org/zap"
)

// Logger 统一的日志接口
type Logger = internal.Logger

var (
	// defaultLogger 全局默认日志器
	defaultLogger atomic.Value

	defaultLoggerOnce sync.Once

	// exitFunc 支持测试时替换 os.Exit
	exitFunc = os.Exit

	// traceIDKey 类型安全的上下文键
	traceIDKey struct{}
)

// SetExitFunc 设置 Fatal 使用的退出函数
func SetExitFunc(fn func(int)) {
	exitFunc = fn
	internal.SetExitFunc(fn)
}

// WithTraceID 将 trace_id 注入到 context 中
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 从 context 中取出 trace_id
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithContext 返回默认 Logger；ctx 中带 trace_id 时每条日志都会附带该字段
func WithContext(ctx context.Context) Logger {
	logger := getDefaultLogger()
	if id := TraceID(ctx); id != "" {
		return logger.With(zap.String("trace_id", id))
	}
	return logger
}

// getDefaultLogger 延迟初始化全局默认日志器，失败时使用 fallback logger
func getDefaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		cfg := GetDefaultConfig("development")
		logger, err := internal.NewLogger(cfg.internal(), "")
		if err != nil {
			log.Printf("clog: failed to initialize default logger: %v", err)
			logger = internal.NewFallbackLogger()
		}
		defaultLogger.Store(logger)
	})
	return defaultLogger.Load().(Logger)
}

// New 创建独立的 Logger 实例
// 初始化失败时返回 fallback logger 和原始错误
func New(ctx context.Context, config *Config, opts ...Option) (Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options := ParseOptions(opts...)
	logger, err := internal.NewLogger(config.internal(), options.Namespace)
	if err != nil {
		return internal.NewFallbackLogger(), err
	}
	return logger, nil
}

// Init 初始化全局默认日志器，通常在 main 中调用一次
// 初始化失败时不会替换现有 logger
func Init(ctx context.Context, config *Config, opts ...Option) error {
	if err := config.Validate(); err != nil {
		return err
	}

	options := ParseOptions(opts...)
	logger, err := internal.NewLogger(config.internal(), options.Namespace)
	if err != nil {
		return err
	}
	// 先触发一次延迟初始化，避免随后被默认配置覆盖
	getDefaultLogger()
	defaultLogger.Store(logger)
	return nil
}

// Nop 返回丢弃所有输出的 Logger，主要用于测试
func Nop() Logger {
	return internal.NewNopLogger()
}

// Namespace 创建带层次化命名空间的 Logger
//
//	engineLogger := clog.Namespace("engine")
//	guardLogger := engineLogger.Namespace("guard") // "engine.guard"
func Namespace(name string) Logger {
	return getDefaultLogger().Namespace(name)
}

// Debug 记录 Debug 级别的日志
func Debug(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

// Info 记录 Info 级别的日志
func Info(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn 记录 Warn 级别的日志
func Warn(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error 记录 Error 级别的日志
func Error(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Fatal 记录 Fatal 级别的日志并退出程序
func Fatal(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}
