package internal

import (
	"github.com/google/uuid"
)

// NewToken 生成 UUID v7 字符串，失败时退回随机 UUID v4
func NewToken() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return u.String()
}

// IsToken 校验是否为 RFC 4122 变体的 UUID v7
func IsToken(s string) bool {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return parsed.Version() == 7 && parsed.Variant() == uuid.RFC4122
}
