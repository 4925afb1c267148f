package dto

import (
	"Courier/internal/model"
	"time"
)

// ConversationVO 视图层会话，待定会话的 conversation_id 为 null
type ConversationVO struct {
	ConversationID  *string   `json:"conversation_id" copier:"-"`
	PeerID          string    `json:"peer_id"`
	PeerUsername    string    `json:"peer_username"`
	LastMessageText string    `json:"last_message"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
	Active          bool      `json:"active" copier:"-"`
}

// MessageVO 视图层消息
type MessageVO struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Text           string    `json:"message_text"`
	SentAt         time.Time `json:"sent_at"`
	Pending        bool      `json:"pending"`
	Mine           bool      `json:"mine" copier:"-"`
}

// SessionVO 会话状态
type SessionVO struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	State    string `json:"state"`
}

// TargetReq 定位会话：peer_id 与 conversation_id 二选一
type TargetReq struct {
	PeerID         string `json:"peer_id" form:"peer_id"`
	ConversationID string `json:"conversation_id" form:"conversation_id"`
}

// SendReq 发送消息
type SendReq struct {
	TargetReq
	Text string `json:"text"`
}

// Ref conversation_id 优先
func (r TargetReq) Ref() model.Ref {
	if r.ConversationID != "" {
		return model.ByConversation(r.ConversationID)
	}
	return model.ByPeer(r.PeerID)
}
