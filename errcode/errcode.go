// Package errcode 定义标识符分配链路上所有组件共享的错误码
// 调用方通过 CodeOf / Is 判断失败类型，而不是匹配错误字符串
package errcode

import (
	"context"
	"errors"
	"fmt"
)

// Code 错误码定义
type Code string

const (
	// Unknown 表示无法归类的错误
	Unknown Code = "UNKNOWN"

	// InvalidArgument 请求参数非法，在产生任何副作用之前被拒绝
	InvalidArgument Code = "INVALID_ARGUMENT"
	// GenerationExhausted 在重试预算内没有生成可用的候选标识符
	GenerationExhausted Code = "GENERATION_EXHAUSTED"
	// LockConflict 另一个写入者正持有同一个 key 的锁
	LockConflict Code = "LOCK_CONFLICT"
	// DuplicateIdentifier 对账后确认标识符已存在
	DuplicateIdentifier Code = "DUPLICATE_IDENTIFIER"
	// StoreInconsistency 唯一约束冲突但对账时查不到记录
	StoreInconsistency Code = "STORE_INCONSISTENCY"
	// StoreUnavailable 持久化存储的传输层失败
	StoreUnavailable Code = "STORE_UNAVAILABLE"
	// GuardUnavailable 成员过滤器后端的传输层失败
	GuardUnavailable Code = "GUARD_UNAVAILABLE"

	// UniqueViolation 存储层返回的唯一约束冲突信号，由编排器对账处理
	UniqueViolation Code = "UNIQUE_VIOLATION"
	// LockUnavailable 锁服务的传输层失败
	LockUnavailable Code = "LOCK_UNAVAILABLE"
	// Cancelled 调用方取消或超时
	Cancelled Code = "CANCELLED"
)

// Error 带错误码的错误类型
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 穿透
func (e *Error) Unwrap() error {
	return e.Cause
}

// New 创建带错误码的错误
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Newf 使用格式化消息创建错误
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 为已有错误附加错误码；如果 err 已携带错误码则原样返回
// context 取消类错误总是归为 Cancelled
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = Cancelled
	}
	return New(code, message, err)
}

// CodeOf 返回错误链上第一个错误码，nil 返回空字符串
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Unknown
}

// Is 判断错误是否携带指定错误码
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retriable 报告调用方是否可以退避后重试
// 引擎内部从不重试，这里只给外部组合重试策略使用
func Retriable(err error) bool {
	switch CodeOf(err) {
	case LockConflict, GenerationExhausted:
		return true
	default:
		return false
	}
}
