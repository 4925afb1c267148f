package dto

import "Courier/internal/model"

func (s PeerDTO) ToModel() model.Peer {
	return model.Peer{UserID: s.UserID.String(), Username: s.Username}
}

// ToModel 按当前用户角色选取对手方
func (s ConversationDTO) ToModel(self model.Role) model.Conversation {
	c := model.Conversation{
		ConversationID: s.ConversationID.String(),
		LastMessageAt:  s.LastMessageAt.Time,
		UnreadCount:    s.UnreadCount,
	}
	if s.LastMessage != nil {
		c.LastMessageText = *s.LastMessage
	}
	if self == model.RoleProfessor {
		c.PeerID, c.PeerUsername = s.StudentID.String(), s.StudentUsername
	} else {
		c.PeerID, c.PeerUsername = s.ProfID.String(), s.ProfUsername
	}
	return c
}

func (s MessageDTO) ToModel() model.Message {
	return model.Message{
		MessageID:      s.MessageID.String(),
		ConversationID: s.ConversationID.String(),
		SenderID:       s.SenderID.String(),
		SenderUsername: s.SenderUsername,
		Text:           s.MessageText,
		SentAt:         s.SentAt.Time,
	}
}
