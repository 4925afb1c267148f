package model

import "time"

// NoticeKind 提示类别
type NoticeKind string

const (
	NoticeSync      NoticeKind = "sync"
	NoticeSend      NoticeKind = "send"
	NoticeTransport NoticeKind = "transport"
	NoticeAuth      NoticeKind = "auth"
)

// Notice 可关闭的用户提示
type Notice struct {
	ID      string     `json:"id"`
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}
