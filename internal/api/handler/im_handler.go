package handler

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/pkg/response"
	"Courier/internal/pkg/util"
	"Courier/internal/service"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
)

type IMHandler struct {
	session service.Session
}

func NewIMHandler(session service.Session) *IMHandler {
	return &IMHandler{session: session}
}

// GetSession 当前身份与同步状态
func (s *IMHandler) GetSession(c *gin.Context) {
	vo := dto.SessionVO{State: s.session.State().String()}
	id, err := s.session.Identity(c.Request.Context())
	if err != nil && !errors.Is(err, service.ErrSessionNotReady) {
		response.Error(c, err)
		return
	}
	vo.UserID, vo.Username, vo.Role = id.ID, id.Username, string(id.Role)
	response.Success(c, vo)
}

// GetPeers 通讯录
func (s *IMHandler) GetPeers(c *gin.Context) {
	peers, err := s.session.Peers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, peers)
}

// GetConversationList 会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	list, activePeer, err := s.session.Conversations(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	vos := make([]dto.ConversationVO, 0, len(list))
	if err = copier.Copy(&vos, &list); err != nil {
		response.Error(c, err)
		return
	}
	for i := range vos {
		vos[i].ConversationID = util.PtrString(list[i].ConversationID)
		vos[i].Active = activePeer != "" && list[i].PeerID == activePeer
	}
	response.Success(c, vos)
}

// GetMessages 会话消息，未指定时取激活会话
func (s *IMHandler) GetMessages(c *gin.Context) {
	var req dto.TargetReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	ctx := c.Request.Context()
	msgs, err := s.session.Messages(ctx, req.Ref())
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := s.session.Identity(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}

	vos := make([]dto.MessageVO, 0, len(msgs))
	if err = copier.Copy(&vos, &msgs); err != nil {
		response.Error(c, err)
		return
	}
	for i := range vos {
		vos[i].Mine = msgs[i].SenderID == id.ID
	}
	response.Success(c, vos)
}

// Select 选择会话：conversation_id 优先，否则按 peer_id
func (s *IMHandler) Select(c *gin.Context) {
	var req dto.TargetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	var (
		conv model.Conversation
		err  error
	)
	ctx := c.Request.Context()
	switch {
	case req.ConversationID != "":
		conv, err = s.session.SelectConversation(ctx, req.ConversationID)
	case req.PeerID != "":
		conv, err = s.session.SelectPeer(ctx, req.PeerID)
	default:
		err = service.ErrParamInvalid
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	var vo dto.ConversationVO
	if err = copier.Copy(&vo, &conv); err != nil {
		response.Error(c, err)
		return
	}
	vo.ConversationID = util.PtrString(conv.ConversationID)
	vo.Active = true
	response.Success(c, vo)
}

// SendMessage 发送消息
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	msg, err := s.session.SendMessage(c.Request.Context(), req.Ref(), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}

	var vo dto.MessageVO
	if err = copier.Copy(&vo, &msg); err != nil {
		response.Error(c, err)
		return
	}
	vo.Mine = true
	response.Success(c, vo)
}

// Refresh 重新拉取会话快照
func (s *IMHandler) Refresh(c *gin.Context) {
	if err := s.session.Refresh(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetNotices 未关闭的提示
func (s *IMHandler) GetNotices(c *gin.Context) {
	notices, err := s.session.Notices(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, notices)
}

// DismissNotice 关闭提示
func (s *IMHandler) DismissNotice(c *gin.Context) {
	if err := s.session.DismissNotice(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Logout 登出
func (s *IMHandler) Logout(c *gin.Context) {
	if err := s.session.Logout(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
