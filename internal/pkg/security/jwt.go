package security

import (
	"Courier/internal/model"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid      = errors.New("凭据无效")
	ErrTokenUnauthorized = errors.New("角色与客户端不匹配")
)

var roleAliases = map[string]model.Role{
	RealmRoleProfessor: model.RoleProfessor,
	"professor":        model.RoleProfessor,
	RealmRoleStudent:   model.RoleStudent,
	"student":          model.RoleStudent,
}

// ParseIdentity 本地解码 Token 得到身份，不做签名校验也不访问网络
// 签名由后端在每次请求时校验，客户端只需读取声明
func ParseIdentity(tokenString string, audience model.Role) (*model.Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token 为空", ErrTokenInvalid)
	}

	claims := &UserClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: token 解析失败: %v", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: 缺少 sub 声明", ErrTokenInvalid)
	}

	role, ok := resolveRole(claims.RealmAccess.Roles)
	if !ok {
		return nil, fmt.Errorf("%w: 缺少可识别的角色声明", ErrTokenInvalid)
	}

	if audience != "" && role != audience {
		return nil, fmt.Errorf("%w: 期望 %s, 实际 %s", ErrTokenUnauthorized, audience, role)
	}

	return &model.Identity{
		ID:       claims.Subject,
		Username: claims.PreferredUsername,
		Role:     role,
	}, nil
}

// resolveRole 教授角色优先，与后端判定一致
func resolveRole(roles []string) (model.Role, bool) {
	var found model.Role
	for _, r := range roles {
		role, ok := roleAliases[strings.ToLower(strings.TrimSpace(r))]
		if !ok {
			continue
		}
		if role == model.RoleProfessor {
			return role, true
		}
		found = role
	}
	return found, found != ""
}
