package feedimpl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// newTestFeed 连接本地 etcd，不可用时跳过测试
func newTestFeed(t *testing.T) *EtcdFeed {
	t.Helper()
	c, err := client.New(client.Config{
		Endpoints: []string{"localhost:2379"},
		Timeout:   2 * time.Second,
		Logger:    clog.Nop(),
	})
	if err != nil {
		t.Skipf("etcd not available on localhost:2379: %v", err)
	}
	prefix := fmt.Sprintf("/shortlink-test/feed/%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = c.Client().Delete(context.Background(), prefix, clientv3.WithPrefix())
		_ = c.Close()
	})
	return NewEtcdFeed(c, prefix, clog.Nop())
}

func TestEtcdFeed_Validation(t *testing.T) {
	f := NewEtcdFeed(nil, "", clog.Nop())
	ctx := context.Background()

	assert.True(t, client.IsCode(f.Publish(ctx, "", "x"), client.ErrCodeValidation))
	_, err := f.Replay(ctx, "", func(string) error { return nil })
	assert.True(t, client.IsCode(err, client.ErrCodeValidation))
	_, err = f.Watch(ctx, "", 0)
	assert.True(t, client.IsCode(err, client.ErrCodeValidation))
	assert.Equal(t, "/feed/short-link-suffix/", f.namespacePrefix("short-link-suffix"))
}

func TestEtcdFeed_PublishReplayWatch(t *testing.T) {
	f := newTestFeed(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.Publish(ctx, "short-link-suffix", "s.ly/abc123"))
	require.NoError(t, f.Publish(ctx, "short-link-suffix", "s.ly/abc123"))
	require.NoError(t, f.Publish(ctx, "short-link-suffix", "s.ly/zzz999"))
	require.NoError(t, f.Publish(ctx, "username", "alice"))

	var ids []string
	rev, err := f.Replay(ctx, "short-link-suffix", func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s.ly/abc123", "s.ly/zzz999"}, ids)
	assert.Greater(t, rev, int64(0))

	ch, err := f.Watch(ctx, "short-link-suffix", rev)
	require.NoError(t, err)
	require.NoError(t, f.Publish(ctx, "short-link-suffix", "s.ly/new001"))

	select {
	case ev := <-ch:
		assert.Equal(t, "s.ly/new001", ev.ID)
		assert.Equal(t, "short-link-suffix", ev.Namespace)
		assert.Greater(t, ev.Revision, rev)
	case <-ctx.Done():
		t.Fatal("no watch event received")
	}
}
