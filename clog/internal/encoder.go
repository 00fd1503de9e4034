package internal

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// buildEncoderConfig 根据格式创建编码器配置
func buildEncoderConfig(format string, enableColor bool, rootPath string, addSource bool) zapcore.EncoderConfig {
	config := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      zapcore.OmitKey,
	}

	if addSource {
		config.CallerKey = "caller"
		config.EncodeCaller = callerEncoder(rootPath)
	}

	if format == "console" {
		if enableColor {
			config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}

	return config
}

// timeEncoder 毫秒精度的本地时间
func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// callerEncoder 以 rootPath 之后的相对路径显示调用位置，找不到 rootPath 时退回短路径
func callerEncoder(rootPath string) zapcore.CallerEncoder {
	return func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		if !caller.Defined {
			enc.AppendString("undefined")
			return
		}
		if rootPath == "" {
			zapcore.ShortCallerEncoder(caller, enc)
			return
		}
		idx := strings.Index(caller.File, rootPath)
		if idx == -1 {
			zapcore.ShortCallerEncoder(caller, enc)
			return
		}
		rel := strings.TrimLeft(caller.File[idx+len(rootPath):], "/\\")
		enc.AppendString(rel + ":" + strconv.Itoa(caller.Line))
	}
}

// createEncoder 根据格式创建编码器，未知格式按 json 处理
func createEncoder(format string, config zapcore.EncoderConfig) zapcore.Encoder {
	if format == "console" {
		return zapcore.NewConsoleEncoder(config)
	}
	return zapcore.NewJSONEncoder(config)
}
