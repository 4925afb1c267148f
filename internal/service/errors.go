package service

import (
	"Courier/internal/pkg/security"
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrAuthInvalid          = security.ErrTokenInvalid
	ErrAuthUnauthorized     = security.ErrTokenUnauthorized
	ErrTransport            = errors.New("推送连接异常")
	ErrSync                 = errors.New("数据加载失败")
	ErrSend                 = errors.New("消息发送失败，请重试")
	ErrParamInvalid         = errors.New("参数错误")
	ErrEmptyMessage         = errors.New("消息内容不能为空")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrSessionClosed        = errors.New("会话已关闭")
	ErrSessionNotReady      = errors.New("会话尚未就绪")
	ErrNoticeNotFound       = errors.New("提示不存在")
)

var ErrorMap = map[error]int{
	ErrAuthInvalid:          Unauthorized,
	ErrAuthUnauthorized:     Unauthorized,
	ErrTransport:            ServiceUnavailable,
	ErrSync:                 ServiceUnavailable,
	ErrSend:                 ServiceUnavailable,
	ErrParamInvalid:         BadRequest,
	ErrEmptyMessage:         BadRequest,
	ErrConversationNotFound: NotFound,
	ErrSessionClosed:        Conflict,
	ErrSessionNotReady:      Conflict,
	ErrNoticeNotFound:       NotFound,
}

// IsAuthError 是否为致命的认证错误
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthInvalid) || errors.Is(err, ErrAuthUnauthorized)
}

// CodeOf 解析错误链对应的业务码
func CodeOf(err error) (int, bool) {
	for sentinel, code := range ErrorMap {
		if errors.Is(err, sentinel) {
			return code, true
		}
	}
	return InternalServerError, false
}
