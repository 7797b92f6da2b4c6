package api

import (
	"context"
	"slices"
)

// RoleAdmin 允许同步、重建索引和清空缓存
const RoleAdmin = "admin"

// Scope 调用方身份，由 authMiddleware 注入
type Scope struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole nil 安全
func (s *Scope) HasRole(role string) bool {
	return s != nil && slices.Contains(s.Roles, role)
}

type scopeContextKey struct{}

func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFrom 未鉴权的请求返回 nil
func ScopeFrom(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return scope
}
