package feed

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/EatingXiGua/shortlink/clog"
)

// Local 进程内的 feed 实现
// 所有命名空间共享一个全局序号，与 etcd revision 语义一致
type Local struct {
	mu       sync.Mutex
	revision int64
	entries  map[string][]Event
	seen     map[string]map[string]struct{}
	// notify 每次发布后关闭并替换，唤醒所有等待中的订阅者
	notify chan struct{}
	closed bool
	logger clog.Logger
}

var _ Feed = (*Local)(nil)

// NewLocal 创建进程内 feed
func NewLocal(logger clog.Logger) *Local {
	if logger == nil {
		logger = clog.Namespace("coord.feed.local")
	}
	return &Local{
		entries: make(map[string][]Event),
		seen:    make(map[string]map[string]struct{}),
		notify:  make(chan struct{}),
		logger:  logger,
	}
}

func (f *Local) Publish(ctx context.Context, namespace, id string) error {
	if namespace == "" || id == "" {
		return errors.New("namespace and id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	ids, ok := f.seen[namespace]
	if !ok {
		ids = make(map[string]struct{})
		f.seen[namespace] = ids
	}
	if _, dup := ids[id]; dup {
		return nil
	}
	ids[id] = struct{}{}

	f.revision++
	f.entries[namespace] = append(f.entries[namespace], Event{
		Namespace: namespace,
		ID:        id,
		Revision:  f.revision,
	})
	close(f.notify)
	f.notify = make(chan struct{})
	return nil
}

func (f *Local) Replay(ctx context.Context, namespace string, fn func(id string) error) (int64, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrClosed
	}
	rev := f.revision
	snapshot := append([]Event(nil), f.entries[namespace]...)
	f.mu.Unlock()

	for _, ev := range snapshot {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := fn(ev.ID); err != nil {
			return 0, err
		}
	}
	return rev, nil
}

func (f *Local) Watch(ctx context.Context, namespace string, fromRevision int64) (<-chan Event, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.mu.Unlock()

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		cursor := fromRevision
		for {
			pending, wait, closed := f.since(namespace, cursor)
			for _, ev := range pending {
				select {
				case out <- ev:
					cursor = ev.Revision
				case <-ctx.Done():
					return
				}
			}
			if closed {
				return
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// since 返回序号大于 cursor 的事件和下一次发布的通知通道
func (f *Local) since(namespace string, cursor int64) ([]Event, <-chan struct{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.entries[namespace]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Revision > cursor })
	pending := append([]Event(nil), entries[i:]...)
	return pending, f.notify, f.closed
}

// Close 关闭 feed，所有订阅通道随之关闭
func (f *Local) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.notify)
	f.logger.Debug("local feed closed", clog.Int64("revision", f.revision))
	return nil
}
