// Package store 定义标识符记录的权威存储
// 存储自身保证 (Namespace, Key) 唯一，Insert 冲突时返回 UniqueViolation
package store

import (
	"context"
	"maps"
	"time"

	"github.com/EatingXiGua/shortlink/errcode"
)

// Record 已分配标识符的持久化记录，写入后不再修改
type Record struct {
	// ID Snowflake 主键
	ID int64 `json:"id"`
	// Namespace 标识符所属命名空间
	Namespace string `json:"namespace"`
	// Key 完整标识符，例如 "s.ly/3fK9aQ" 或用户名
	Key string `json:"key"`
	// Suffix 生成的部分，不带域名
	Suffix string `json:"suffix"`
	// Seed 生成时使用的原始输入，例如原始链接
	Seed string `json:"seed,omitempty"`
	// Domain 限定域名，可为空
	Domain string `json:"domain,omitempty"`
	// Attributes 调用方附带的业务字段，原样保存
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Clone 返回不共享 Attributes 的副本
func (r Record) Clone() Record {
	r.Attributes = maps.Clone(r.Attributes)
	return r
}

// Validate 检查必填字段
func (r Record) Validate() error {
	if r.Namespace == "" {
		return errcode.New(errcode.InvalidArgument, "record namespace cannot be empty", nil)
	}
	if r.Key == "" {
		return errcode.New(errcode.InvalidArgument, "record key cannot be empty", nil)
	}
	return nil
}

// Store 权威存储接口
type Store interface {
	// Insert 写入记录；Key 已存在时返回 UniqueViolation，传输失败返回 StoreUnavailable
	Insert(ctx context.Context, record Record) error
	// FindByKey 按完整标识符查找
	FindByKey(ctx context.Context, namespace, key string) (Record, bool, error)
	// Scan 遍历命名空间下所有记录，fn 返回错误时停止
	// 部分记录无法读取时仍遍历其余记录，最后返回 StoreInconsistency
	Scan(ctx context.Context, namespace string, fn func(Record) error) error
}

// ErrUniqueViolation 构造唯一约束冲突错误
func ErrUniqueViolation(namespace, key string) error {
	return errcode.Newf(errcode.UniqueViolation, "identifier %q already exists in namespace %q", key, namespace)
}
