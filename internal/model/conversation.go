package model

import "time"

// Conversation 会话
type Conversation struct {
	ConversationID  string    `json:"conversation_id"` // 为空表示尚未在服务端建立的待定会话
	PeerID          string    `json:"peer_id"`
	PeerUsername    string    `json:"peer_username"`
	LastMessageText string    `json:"last_message"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
}

// IsPending 是否为待定会话
func (c Conversation) IsPending() bool {
	return c.ConversationID == ""
}

// Ref 会话定位：按对手方或按会话 ID
type Ref struct {
	PeerID         string
	ConversationID string
}

func ByPeer(peerID string) Ref {
	return Ref{PeerID: peerID}
}

func ByConversation(conversationID string) Ref {
	return Ref{ConversationID: conversationID}
}

// IsZero 未指定任何定位条件
func (r Ref) IsZero() bool {
	return r.PeerID == "" && r.ConversationID == ""
}
