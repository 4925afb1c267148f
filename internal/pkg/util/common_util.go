package util

import (
	"strings"

	"github.com/google/uuid"
)

// IsBlank 是否为空或仅含空白字符
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NewTempID 生成本地临时 ID
func NewTempID(prefix string) string {
	return prefix + uuid.NewString()
}

// PtrString 空串返回 nil
func PtrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
