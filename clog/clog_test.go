package clog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readLines 按行解析 json 日志文件
func readLines(t *testing.T, file string) []map[string]any {
	t.Helper()
	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()

	var logs []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), scanner.Text())
		logs = append(logs, entry)
	}
	require.NoError(t, scanner.Err())
	return logs
}

func newFileLogger(t *testing.T, level string, opts ...Option) (Logger, string) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(context.Background(), &Config{
		Level:     level,
		Format:    "json",
		Output:    file,
		AddSource: true,
	}, opts...)
	require.NoError(t, err)
	return logger, file
}

func TestGetDefaultConfig(t *testing.T) {
	dev := GetDefaultConfig("development")
	assert.Equal(t, "debug", dev.Level)
	assert.Equal(t, "console", dev.Format)
	assert.True(t, dev.EnableColor)
	assert.NoError(t, dev.Validate())

	prod := GetDefaultConfig("production")
	assert.Equal(t, "info", prod.Level)
	assert.Equal(t, "json", prod.Format)
	assert.False(t, prod.EnableColor)
	assert.NoError(t, prod.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"nil", nil},
		{"bad level", &Config{Level: "trace", Format: "json", Output: "stdout"}},
		{"bad format", &Config{Level: "info", Format: "xml", Output: "stdout"}},
		{"empty output", &Config{Level: "info", Format: "json"}},
		{"negative rotation", &Config{Level: "info", Format: "json", Output: "a.log", Rotation: &RotationConfig{MaxSize: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.config.Validate())
		})
	}
}

func TestLogger_LevelsAndFields(t *testing.T) {
	logger, file := newFileLogger(t, "info")

	logger.Debug("dropped")
	logger.Info("fields test",
		String("string", "hello"),
		Int("int", 42),
		Bool("bool", true),
		Duration("duration", 5*time.Second),
		Err(errors.New("test err")),
	)
	logger.Warn("warn msg")

	logs := readLines(t, file)
	require.Len(t, logs, 2)
	assert.Equal(t, "fields test", logs[0]["msg"])
	assert.Equal(t, "hello", logs[0]["string"])
	assert.Equal(t, float64(42), logs[0]["int"])
	assert.Equal(t, true, logs[0]["bool"])
	assert.Equal(t, "5s", logs[0]["duration"])
	assert.Equal(t, "test err", logs[0]["error"])
	assert.Equal(t, "warn", logs[1]["level"])
}

func TestLogger_Namespace(t *testing.T) {
	logger, file := newFileLogger(t, "info", WithNamespace("root"))

	logger.Namespace("engine").Namespace("guard").Info("namespace test")
	logger.With(String("namespace", "ignored"), String("k", "v")).Info("with test")

	logs := readLines(t, file)
	require.Len(t, logs, 2)
	assert.Equal(t, "root.engine.guard", logs[0]["namespace"])
	assert.Equal(t, "root", logs[1]["namespace"])
	assert.Equal(t, "v", logs[1]["k"])
}

func TestLogger_Caller(t *testing.T) {
	logger, file := newFileLogger(t, "info")
	logger.Info("caller test")

	logs := readLines(t, file)
	require.Len(t, logs, 1)
	caller, ok := logs[0]["caller"].(string)
	require.True(t, ok)
	assert.True(t, strings.Contains(caller, "clog_test.go"), caller)
}

func TestWithContext_TraceID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trace.log")
	require.NoError(t, Init(context.Background(), &Config{Level: "info", Format: "json", Output: file}))

	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", TraceID(ctx))
	assert.Equal(t, "", TraceID(context.Background()))

	WithContext(ctx).Info("traced")
	WithContext(ctx).Namespace("engine").Info("traced namespace")

	logs := readLines(t, file)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, "trace-123", entry["trace_id"])
	}
}

func TestFatal_UsesExitFunc(t *testing.T) {
	logger, _ := newFileLogger(t, "info")

	code := -1
	SetExitFunc(func(c int) { code = c })
	defer SetExitFunc(os.Exit)

	logger.Fatal("fatal msg")
	assert.Equal(t, 1, code)
}

func TestRotationOutput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "app.log")
	logger, err := New(context.Background(), &Config{
		Level:  "info",
		Format: "json",
		Output: file,
		Rotation: &RotationConfig{
			MaxSize:    1,
			MaxBackups: 2,
			MaxAge:     1,
		},
	})
	require.NoError(t, err)

	logger.Info("rotation log", Int("n", 1))

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"rotation log"`)
}

func TestNop(t *testing.T) {
	logger := Nop()
	assert.NotPanics(t, func() {
		logger.Namespace("x").With(String("k", "v")).Info("discarded")
	})
}
