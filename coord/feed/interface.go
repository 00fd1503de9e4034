// Package feed 在多个进程之间广播已提交的标识符
// 成员过滤器通过 Replay + Watch 与集群中其他写入者保持一致
package feed

import (
	"context"
	"errors"
)

// ErrClosed feed 已关闭
var ErrClosed = errors.New("feed is closed")

// Event 一条已发布的标识符
type Event struct {
	Namespace string
	ID        string
	// Revision 单调递增的发布序号，Watch 从该序号之后继续
	Revision int64
}

// Feed 按命名空间发布和订阅标识符
type Feed interface {
	// Publish 发布标识符，重复发布同一个标识符是无操作
	Publish(ctx context.Context, namespace, id string) error

	// Replay 按发布顺序回放命名空间下的全部标识符，返回回放时的序号
	Replay(ctx context.Context, namespace string, fn func(id string) error) (int64, error)

	// Watch 订阅 fromRevision 之后发布的标识符
	// ctx 取消或底层订阅中断时关闭返回的通道
	Watch(ctx context.Context, namespace string, fromRevision int64) (<-chan Event, error)
}
