package uid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProvider 测试 Provider 基本功能
func TestProvider(t *testing.T) {
	provider, err := New(context.Background(), &Config{
		ServiceName:   "test-service",
		MaxInstanceID: 10,
		InstanceID:    3,
	}, WithLogger(clog.Nop()))
	require.NoError(t, err)
	defer provider.Close()

	id, err := provider.NextID()
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	createdAt, instanceID, sequence := ParseID(id)
	assert.Equal(t, int64(3), instanceID)
	assert.Equal(t, int64(0), sequence)
	assert.WithinDuration(t, time.Now(), createdAt, 5*time.Second)

	token := provider.Token()
	assert.True(t, IsToken(token))
	assert.Equal(t, byte('7'), token[14])
}

// TestProvider_AutoInstanceID 测试自动分配实例 ID
func TestProvider_AutoInstanceID(t *testing.T) {
	provider, err := New(context.Background(), &Config{
		ServiceName:   "test-service",
		MaxInstanceID: 10,
	}, WithLogger(clog.Nop()))
	require.NoError(t, err)

	id, err := provider.NextID()
	require.NoError(t, err)
	_, instanceID, _ := ParseID(id)
	assert.GreaterOrEqual(t, instanceID, int64(1))
	assert.LessOrEqual(t, instanceID, int64(10))
}

// TestConfig_Validate 测试配置验证
func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		config *Config
	}{
		{"nil", nil},
		{"empty service", &Config{MaxInstanceID: 10}},
		{"max too large", &Config{ServiceName: "s", MaxInstanceID: 2048}},
		{"instance above max", &Config{ServiceName: "s", MaxInstanceID: 10, InstanceID: 11}},
		{"negative instance", &Config{ServiceName: "s", MaxInstanceID: 10, InstanceID: -1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.config.Validate())
		})
	}
}

// TestGetDefaultConfig 测试环境变量覆盖
func TestGetDefaultConfig(t *testing.T) {
	t.Setenv("SHORTLINK_SERVICE_NAME", "alloc")
	t.Setenv("SHORTLINK_INSTANCE_ID", "7")

	cfg := GetDefaultConfig("production")
	assert.Equal(t, "alloc", cfg.ServiceName)
	assert.Equal(t, 7, cfg.InstanceID)
	assert.Equal(t, 1023, cfg.MaxInstanceID)
	assert.NoError(t, cfg.Validate())

	t.Setenv("SHORTLINK_INSTANCE_ID", "")
	assert.Equal(t, 1, GetDefaultConfig("development").InstanceID)
}

// TestNextID_ClockBackwards 测试时钟回拨被拒绝
func TestNextID_ClockBackwards(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	provider, err := New(context.Background(), &Config{
		ServiceName:   "test-service",
		MaxInstanceID: 10,
		InstanceID:    1,
	}, WithLogger(clog.Nop()), WithClock(clock))
	require.NoError(t, err)

	first, err := provider.NextID()
	require.NoError(t, err)
	second, err := provider.NextID()
	require.NoError(t, err)
	assert.Greater(t, second, first)

	mu.Lock()
	now = now.Add(-time.Second)
	mu.Unlock()

	_, err = provider.NextID()
	assert.Error(t, err)
}

// TestNextID_Concurrent 测试并发生成不重复
func TestNextID_Concurrent(t *testing.T) {
	provider, err := New(context.Background(), &Config{
		ServiceName:   "test-service",
		MaxInstanceID: 10,
		InstanceID:    2,
	}, WithLogger(clog.Nop()))
	require.NoError(t, err)

	const goroutines, perGoroutine = 10, 500
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]struct{}, goroutines*perGoroutine)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id, err := provider.NextID()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestIsToken(t *testing.T) {
	assert.True(t, IsToken(NewToken()))
	assert.False(t, IsToken("not-a-uuid"))
	assert.False(t, IsToken("6ba7b810-9dad-11d1-80b4-00c04fd430c8")) // v1
}
