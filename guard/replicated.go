package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/feed"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

var errWatchClosed = errors.New("feed watch closed")

// Replicated 本地布隆过滤器 + 集群广播
// 本进程提交的标识符通过 feed 发布，其他进程发布的标识符通过 Watch 写入本地过滤器
type Replicated struct {
	local  *Bloom
	feed   feed.Feed
	logger clog.Logger

	// newBackOff 生成 watch 中断后重连的退避策略
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var (
	_ Guard  = (*Replicated)(nil)
	_ Seeder = (*Replicated)(nil)
)

// NewReplicated 创建集群同步的过滤器，调用 Start 之后才会接收其他进程的标识符
func NewReplicated(local *Bloom, f feed.Feed, logger clog.Logger) *Replicated {
	if logger == nil {
		logger = clog.Namespace("guard.replicated")
	}
	return &Replicated{
		local:  local,
		feed:   f,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (r *Replicated) MightExist(namespace, id string) bool {
	return r.local.MightExist(namespace, id)
}

// MarkExists 先写本地再广播，广播失败返回 GuardUnavailable，本地登记仍然有效
func (r *Replicated) MarkExists(ctx context.Context, namespace, id string) error {
	if err := r.local.MarkExists(ctx, namespace, id); err != nil {
		return err
	}
	if err := r.feed.Publish(ctx, namespace, id); err != nil {
		return errcode.Wrap(err, errcode.GuardUnavailable, "failed to publish identifier")
	}
	return nil
}

func (r *Replicated) Seed(namespace, id string) {
	r.local.Seed(namespace, id)
}

// Start 同步回放所有命名空间，然后在后台持续监听
// 返回时已回放的标识符全部可见
func (r *Replicated) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errcode.New(errcode.GuardUnavailable, "replicated guard is closed", nil)
	}
	if r.started {
		return nil
	}

	namespaces := r.local.Namespaces()
	revisions := make([]int64, len(namespaces))

	g, gctx := errgroup.WithContext(ctx)
	for i, ns := range namespaces {
		g.Go(func() error {
			rev, err := r.replay(gctx, ns)
			revisions[i] = rev
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return errcode.Wrap(err, errcode.GuardUnavailable, "failed to replay guard feed")
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.started = true
	for i, ns := range namespaces {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.follow(watchCtx, ns, revisions[i])
		}()
	}
	return nil
}

func (r *Replicated) replay(ctx context.Context, namespace string) (int64, error) {
	rev, err := r.feed.Replay(ctx, namespace, func(id string) error {
		r.local.Seed(namespace, id)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("guard replayed",
		clog.String("namespace", namespace),
		clog.Int64("revision", rev))
	return rev, nil
}

// follow 持续监听一个命名空间；watch 中断后重新回放再继续，避免 compaction 丢事件
func (r *Replicated) follow(ctx context.Context, namespace string, rev int64) {
	b := backoff.WithContext(r.newBackOff(), ctx)
	resumed := false

	operation := func() error {
		if resumed {
			var err error
			if rev, err = r.replay(ctx, namespace); err != nil {
				return err
			}
		}
		resumed = true

		ch, err := r.feed.Watch(ctx, namespace, rev)
		if err != nil {
			return err
		}
		for ev := range ch {
			r.local.Seed(namespace, ev.ID)
			rev = ev.Revision
			b.Reset()
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errWatchClosed
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("guard watch interrupted, retrying",
			clog.String("namespace", namespace),
			clog.Duration("wait", wait),
			clog.Err(err))
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil && ctx.Err() == nil {
		r.logger.Error("guard watch stopped", clog.String("namespace", namespace), clog.Err(err))
	}
}

// Close 停止所有后台监听，之后不能再 Start
func (r *Replicated) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.closed = true
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
	return nil
}
