package consts

// 推送帧类型
const (
	FrameNewMessage = "new_message"
)

// REST 路径
const (
	PathProfessors       = "/users/professors"
	PathStudents         = "/users/students"
	PathConversations    = "/conversations"
	PathConversationMsgs = "/conversations/{id}/messages"
	PathMessages         = "/messages"
)

const (
	TokenQueryParam    = "token"
	SessionTracePrefix = "session-"
	MaxNotices         = 50
)
