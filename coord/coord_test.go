package coord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "nil", config: nil, wantErr: "config cannot be nil"},
		{name: "no endpoints", config: &Config{DialTimeout: time.Second}, wantErr: "at least one endpoint"},
		{name: "empty endpoint", config: &Config{Endpoints: []string{""}, DialTimeout: time.Second}, wantErr: "endpoint 0 cannot be empty"},
		{name: "zero timeout", config: &Config{Endpoints: []string{"localhost:2379"}}, wantErr: "dial timeout must be positive"},
		{name: "relative prefix", config: &Config{Endpoints: []string{"localhost:2379"}, DialTimeout: time.Second, Prefix: "shortlink"}, wantErr: "prefix must start with"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	assert.NoError(t, GetDefaultConfig("development").Validate())
	assert.NoError(t, GetDefaultConfig("production").Validate())
}

func TestConfig_Path(t *testing.T) {
	assert.Equal(t, "/shortlink/locks", (&Config{Prefix: "/shortlink"}).path("locks"))
	assert.Equal(t, "/shortlink/feed", (&Config{Prefix: "/shortlink/"}).path("feed"))
	assert.Equal(t, "/locks", (&Config{}).path("locks"))
}

func TestNew_InvalidConfig(t *testing.T) {
	p, err := New(context.Background(), &Config{}, WithLogger(clog.Nop()))
	assert.Error(t, err)
	assert.Nil(t, p)
}

// newTestProvider 连接本地 etcd，不可用时跳过测试
func newTestProvider(t *testing.T) Provider {
	t.Helper()
	cfg := GetDefaultConfig("development")
	cfg.DialTimeout = 2 * time.Second
	cfg.Prefix = fmt.Sprintf("/shortlink-test/coord/%d", time.Now().UnixNano())

	p, err := New(context.Background(), cfg, WithLogger(clog.Nop()))
	if err != nil {
		t.Skipf("etcd not available on localhost:2379: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_Services(t *testing.T) {
	p := newTestProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Health(ctx))

	l, err := p.Lock().TryAcquire(ctx, "username:alice", 5*time.Second)
	require.NoError(t, err)
	_, err = p.Lock().TryAcquire(ctx, "username:alice", 5*time.Second)
	assert.ErrorIs(t, err, lock.ErrLocked)
	require.NoError(t, l.Unlock(ctx))

	require.NoError(t, p.Feed().Publish(ctx, "username", "alice"))
	var ids []string
	_, err = p.Feed().Replay(ctx, "username", func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)

	_, err = p.InstanceIDs("", 10)
	assert.Error(t, err)
	instances, err := p.InstanceIDs("shortlink", 10)
	require.NoError(t, err)
	first, err := instances.AcquireID(ctx)
	require.NoError(t, err)
	second, err := instances.AcquireID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.NoError(t, first.Close(ctx))
	assert.NoError(t, second.Close(ctx))
}

func TestProvider_Close(t *testing.T) {
	p := newTestProvider(t)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Error(t, p.Health(context.Background()))
	_, err := p.InstanceIDs("shortlink", 10)
	assert.Error(t, err)
}
