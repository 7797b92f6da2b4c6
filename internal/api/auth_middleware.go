package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	applog "bobbrain/internal/platform/log"
)

// JWTConfig JWT 鉴权配置
type JWTConfig struct {
	Secret string // HMAC 签名密钥
	Issuer string // 可选签发者校验
}

// brainClaims 调用方 token。roles 中含 admin 才能做索引维护。
type brainClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing Authorization header")

// authMiddleware 校验 Authorization: Bearer <token>，并把调用方身份写入 context
func authMiddleware(cfg *JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			scope, err := cfg.verify(raw)
			if err != nil {
				applog.Warn("[Auth] Invalid JWT token", "error", err, "path", r.URL.Path)
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			applog.Debug("[Auth] Scope injected", "subject", scope.Subject, "roles", scope.Roles)
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid Authorization header format")
	}
	return strings.TrimSpace(token), nil
}

func (cfg *JWTConfig) verify(raw string) (*Scope, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	var claims brainClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &Scope{Subject: claims.Subject, Roles: claims.Roles}, nil
}

// requireRole 要求调用方具备指定角色
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ScopeFrom(r.Context()).HasRole(role) {
				writeErrorCode(w, http.StatusForbidden, "forbidden", "Requires role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
