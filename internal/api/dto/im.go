package dto

import "github.com/goccy/go-json"

// PeerDTO 通讯录条目（/users/professors、/users/students）
type PeerDTO struct {
	UserID   FlexID `json:"user_id"`
	Username string `json:"username"`
}

// ConversationDTO 会话列表项（/conversations）
type ConversationDTO struct {
	ConversationID  FlexID    `json:"conversation_id"`
	ProfID          FlexID    `json:"prof_id"`
	StudentID       FlexID    `json:"student_id"`
	ProfUsername    string    `json:"prof_username"`
	StudentUsername string    `json:"student_username"`
	LastMessage     *string   `json:"last_message"`
	LastMessageAt   Timestamp `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
}

// MessageDTO 消息明细
type MessageDTO struct {
	MessageID      FlexID    `json:"message_id" validate:"required"`
	ConversationID FlexID    `json:"conversation_id" validate:"required"`
	SenderID       FlexID    `json:"sender_id" validate:"required"`
	SenderUsername string    `json:"sender_username,omitempty"`
	MessageText    string    `json:"message_text"`
	SentAt         Timestamp `json:"sent_at"`
	IsRead         bool      `json:"is_read"`
}

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ReceiverID  string `json:"receiver_id"`
	MessageText string `json:"message_text"`
}

// PushFrame 推送通道帧
type PushFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
