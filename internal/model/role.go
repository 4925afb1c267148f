package model

// Role 会话参与方角色
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
)

// Valid 是否为已知角色
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleProfessor
}

// PeerRole 对手方角色：学生只与教授会话，反之亦然
func (r Role) PeerRole() Role {
	if r == RoleProfessor {
		return RoleStudent
	}
	return RoleProfessor
}
