package model

// Identity 当前登录用户身份，会话期间只读
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Peer 通讯录条目
type Peer struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
