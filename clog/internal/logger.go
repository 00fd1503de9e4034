package internal

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ExitFunc 允许测试时替换 os.Exit
var ExitFunc = os.Exit

// SetExitFunc 设置退出函数
func SetExitFunc(fn func(int)) {
	ExitFunc = fn
}

// Logger 定义日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	WithOptions(opts ...zap.Option) Logger
	Namespace(name string) Logger
}

// Rotation 日志轮转配置
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 内部配置结构，由外层 clog.Config 转换而来，避免循环依赖
type Config struct {
	Level       string
	Format      string
	Output      string
	AddSource   bool
	EnableColor bool
	RootPath    string
	Rotation    *Rotation
}

// namespaceKey 命名空间字段名
const namespaceKey = "namespace"

// zapLogger 封装 zap.Logger，namespace 在写日志时动态追加
type zapLogger struct {
	base      *zap.Logger
	namespace string
}

// NewLogger 根据配置创建 logger
func NewLogger(cfg Config, namespace string) (Logger, error) {
	encoder := createEncoder(cfg.Format, buildEncoderConfig(cfg.Format, cfg.EnableColor, cfg.RootPath, cfg.AddSource))

	sink, err := buildWriteSyncer(cfg)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))
	return &zapLogger{
		base:      zap.New(core, opts...),
		namespace: namespace,
	}, nil
}

// NewFallbackLogger 创建备用 logger
func NewFallbackLogger() Logger {
	logger, _ := zap.NewProduction()
	return &zapLogger{base: logger}
}

// NewNopLogger 创建丢弃所有输出的 logger
func NewNopLogger() Logger {
	return &zapLogger{base: zap.NewNop()}
}

// buildWriteSyncer 根据输出目标创建写入器；文件输出且配置了轮转时使用 lumberjack
func buildWriteSyncer(cfg Config) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
		return nil, err
	}

	if cfg.Rotation == nil {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(file), nil
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
		LocalTime:  true,
	}), nil
}

// withNamespace 把 namespace 字段放在第一个位置
func (l *zapLogger) withNamespace(fields []zap.Field) []zap.Field {
	if l.namespace == "" {
		return fields
	}
	all := make([]zap.Field, len(fields)+1)
	all[0] = zap.String(namespaceKey, l.namespace)
	copy(all[1:], fields)
	return all
}

// caller 跳过 zapLogger 自身这一层调用栈
func (l *zapLogger) caller() *zap.Logger {
	return l.base.WithOptions(zap.AddCallerSkip(1))
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) {
	l.caller().Debug(msg, l.withNamespace(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...zap.Field) {
	l.caller().Info(msg, l.withNamespace(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...zap.Field) {
	l.caller().Warn(msg, l.withNamespace(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...zap.Field) {
	l.caller().Error(msg, l.withNamespace(fields)...)
}

// Fatal 记录日志后调用 ExitFunc(1)
func (l *zapLogger) Fatal(msg string, fields ...zap.Field) {
	// 使用 WriteThenNoop 避免 zap 自己退出，交给 ExitFunc 统一处理
	l.caller().WithOptions(zap.WithFatalHook(zapcore.WriteThenNoop)).Fatal(msg, l.withNamespace(fields)...)
	ExitFunc(1)
}

// With 添加字段，过滤掉 namespace 字段避免重复
func (l *zapLogger) With(fields ...zap.Field) Logger {
	filtered := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if field.Key != namespaceKey {
			filtered = append(filtered, field)
		}
	}
	return &zapLogger{
		base:      l.base.With(filtered...),
		namespace: l.namespace,
	}
}

// WithOptions 添加 zap 选项
func (l *zapLogger) WithOptions(opts ...zap.Option) Logger {
	return &zapLogger{
		base:      l.base.WithOptions(opts...),
		namespace: l.namespace,
	}
}

// Namespace 创建子命名空间，与父命名空间以 "." 连接
func (l *zapLogger) Namespace(name string) Logger {
	full := name
	if l.namespace != "" {
		full = l.namespace + "." + name
	}
	return &zapLogger{
		base:      l.base,
		namespace: full,
	}
}

// parseLevel 解析日志级别
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
