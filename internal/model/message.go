package model

import (
	"strconv"
	"strings"
	"time"
)

// TempIDPrefix 本地乐观消息的临时 ID 前缀，不会与服务端 ID 冲突
const TempIDPrefix = "tmp-"

// Message 消息，创建后不可变
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Text           string    `json:"message_text"`
	SentAt         time.Time `json:"sent_at"`
	Pending        bool      `json:"pending,omitempty"` // 尚未被服务端确认
}

// IsTempID 是否为本地临时 ID
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Less 排序规则：sentAt 升序，相同则按 messageId 升序
func (m Message) Less(o Message) bool {
	if !m.SentAt.Equal(o.SentAt) {
		return m.SentAt.Before(o.SentAt)
	}
	return CompareID(m.MessageID, o.MessageID) < 0
}

// CompareID 比较两个 ID：数字 ID 按数值排在前，非数字 ID 按字典序排在后
func CompareID(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
