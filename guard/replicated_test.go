package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/feed"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingFeed 发布总是失败
type failingFeed struct {
	feed.Feed
}

func (failingFeed) Publish(ctx context.Context, namespace, id string) error {
	return errors.New("etcd unavailable")
}

func newTestReplicated(t *testing.T, f feed.Feed) *Replicated {
	t.Helper()
	r := NewReplicated(newTestBloom(t), f, clog.Nop())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReplicated_ReplayOnStart(t *testing.T) {
	shared := feed.NewLocal(clog.Nop())
	ctx := context.Background()

	require.NoError(t, shared.Publish(ctx, "username", "alice"))
	require.NoError(t, shared.Publish(ctx, "short-link-suffix", "s.ly/abc123"))

	r := newTestReplicated(t, shared)
	assert.False(t, r.MightExist("username", "alice"))

	require.NoError(t, r.Start(ctx))
	assert.True(t, r.MightExist("username", "alice"))
	assert.True(t, r.MightExist("short-link-suffix", "s.ly/abc123"))

	// 重复 Start 无副作用
	require.NoError(t, r.Start(ctx))
}

func TestReplicated_PropagatesBetweenInstances(t *testing.T) {
	shared := feed.NewLocal(clog.Nop())
	ctx := context.Background()

	a := newTestReplicated(t, shared)
	b := newTestReplicated(t, shared)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	require.NoError(t, a.MarkExists(ctx, "group-id", "Ab3xY9"))
	assert.True(t, a.MightExist("group-id", "Ab3xY9"))

	assert.Eventually(t, func() bool {
		return b.MightExist("group-id", "Ab3xY9")
	}, time.Second, 5*time.Millisecond)
}

func TestReplicated_PublishFailure(t *testing.T) {
	r := newTestReplicated(t, failingFeed{})
	ctx := context.Background()

	err := r.MarkExists(ctx, "username", "bob")
	assert.True(t, errcode.Is(err, errcode.GuardUnavailable))
	// 本地登记已经生效
	assert.True(t, r.MightExist("username", "bob"))

	err = r.MarkExists(ctx, "unknown", "bob")
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))
}

func TestReplicated_Seed(t *testing.T) {
	shared := feed.NewLocal(clog.Nop())
	r := newTestReplicated(t, shared)

	r.Seed("username", "carol")
	assert.True(t, r.MightExist("username", "carol"))

	// Seed 不广播
	var ids []string
	_, err := shared.Replay(context.Background(), "username", func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReplicated_CloseStopsWatchers(t *testing.T) {
	shared := feed.NewLocal(clog.Nop())
	r := NewReplicated(newTestBloom(t), shared, clog.Nop())
	require.NoError(t, r.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	require.NoError(t, r.Close())
}

func TestReplicated_StartAfterClose(t *testing.T) {
	shared := feed.NewLocal(clog.Nop())
	r := NewReplicated(newTestBloom(t), shared, clog.Nop())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Close())

	err := r.Start(context.Background())
	assert.True(t, errcode.Is(err, errcode.GuardUnavailable), "got %v", err)

	// 从未启动就关闭的实例同样不能再启动
	idle := NewReplicated(newTestBloom(t), shared, clog.Nop())
	require.NoError(t, idle.Close())
	assert.Error(t, idle.Start(context.Background()))
}
