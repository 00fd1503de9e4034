package feedimpl

import (
	"context"
	"strings"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/feed"
	"github.com/EatingXiGua/shortlink/coord/internal/client"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// replayPageSize 回放时每页读取的 key 数量
const replayPageSize = 1000

// EtcdFeed 使用 etcd 实现 feed.Feed
// 每个标识符对应一个 key：<prefix>/<namespace>/<id>，写入只发生一次
type EtcdFeed struct {
	client *client.EtcdClient
	prefix string
	logger clog.Logger
}

var _ feed.Feed = (*EtcdFeed)(nil)

// NewEtcdFeed 创建基于 etcd 的 feed
func NewEtcdFeed(c *client.EtcdClient, prefix string, logger clog.Logger) *EtcdFeed {
	if prefix == "" {
		prefix = "/feed"
	}
	if logger == nil {
		logger = clog.Namespace("coord.feed")
	}
	return &EtcdFeed{
		client: c,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger,
	}
}

// namespacePrefix 标识符中可能含有 "/"，因此不能用 path.Join
func (f *EtcdFeed) namespacePrefix(namespace string) string {
	return f.prefix + "/" + namespace + "/"
}

// Publish 通过 CreateRevision == 0 事务写入，重复发布不产生新的 revision
func (f *EtcdFeed) Publish(ctx context.Context, namespace, id string) error {
	if namespace == "" || id == "" {
		return client.NewError(client.ErrCodeValidation, "namespace and id cannot be empty", nil)
	}
	created, err := f.client.PutIfAbsent(ctx, f.namespacePrefix(namespace)+id, id)
	if err != nil {
		return err
	}
	if created {
		f.logger.Debug("identifier published", clog.String("namespace", namespace), clog.String("id", id))
	}
	return nil
}

// Replay 分页读取同一 revision 下的快照
func (f *EtcdFeed) Replay(ctx context.Context, namespace string, fn func(id string) error) (int64, error) {
	if namespace == "" {
		return 0, client.NewError(client.ErrCodeValidation, "namespace cannot be empty", nil)
	}

	nsPrefix := f.namespacePrefix(namespace)
	rangeEnd := clientv3.GetPrefixRangeEnd(nsPrefix)
	key := nsPrefix
	var rev int64
	count := 0

	for {
		opts := []clientv3.OpOption{
			clientv3.WithRange(rangeEnd),
			clientv3.WithLimit(replayPageSize),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
		}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev))
		}
		resp, err := f.client.Get(ctx, key, opts...)
		if err != nil {
			return 0, err
		}
		if rev == 0 {
			rev = resp.Header.Revision
		}

		for _, kv := range resp.Kvs {
			if err := fn(string(kv.Value)); err != nil {
				return 0, err
			}
			count++
		}
		if !resp.More || len(resp.Kvs) == 0 {
			break
		}
		key = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}

	f.logger.Debug("namespace replayed",
		clog.String("namespace", namespace),
		clog.Int("count", count),
		clog.Int64("revision", rev))
	return rev, nil
}

// Watch 从 fromRevision+1 开始监听新发布的标识符
// compaction 等错误会关闭通道，由调用方重新 Replay
func (f *EtcdFeed) Watch(ctx context.Context, namespace string, fromRevision int64) (<-chan feed.Event, error) {
	if namespace == "" {
		return nil, client.NewError(client.ErrCodeValidation, "namespace cannot be empty", nil)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithFilterDelete()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision+1))
	}
	watchCh := f.client.Watch(clientv3.WithRequireLeader(ctx), f.namespacePrefix(namespace), opts...)
	out := make(chan feed.Event, 64)

	go func() {
		defer close(out)
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				f.logger.Error("feed watch failed", clog.String("namespace", namespace), clog.Err(err))
				return
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				select {
				case out <- feed.Event{
					Namespace: namespace,
					ID:        string(ev.Kv.Value),
					Revision:  ev.Kv.ModRevision,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
