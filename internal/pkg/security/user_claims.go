package security

import (
	"github.com/golang-jwt/jwt/v5"
)

// 认证中心签发的角色名
const (
	RealmRoleStudent   = "etudiant"
	RealmRoleProfessor = "prof"
)

// RealmAccess Keycloak 领域角色
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// UserClaims 客户端关心的 Token 声明
type UserClaims struct {
	PreferredUsername string      `json:"preferred_username"`
	RealmAccess       RealmAccess `json:"realm_access"`
	jwt.RegisteredClaims
}
