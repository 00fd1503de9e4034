// Package guard 维护每个命名空间已提交标识符的成员过滤器
// MightExist 返回 false 表示标识符一定不存在，返回 true 只是提示，需要由存储确认
package guard

import "context"

// Guard 成员过滤器接口，实现必须支持并发调用
type Guard interface {
	// MightExist 判断标识符是否可能已存在，不做任何网络 I/O
	MightExist(namespace, id string) bool
	// MarkExists 在存储提交成功后登记标识符，重复登记没有副作用
	MarkExists(ctx context.Context, namespace, id string) error
}

// Seeder 预热接口，只写本地过滤器，不向集群广播
type Seeder interface {
	Seed(namespace, id string)
}
