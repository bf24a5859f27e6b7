package api

import (
	"context"
	"errors"
	"time"

	"authbridge/internal/auth"
)

// ErrNotAuthenticated 既没有有效 token 也没有会话
var ErrNotAuthenticated = errors.New("not authenticated")

// LoginRequest 发起登录请求
type LoginRequest struct {
	LoginHint string
	ReturnTo  string
	// SessionID 浏览器当前的会话 cookie，登录成功后会被替换
	SessionID string
	UserAgent string
}

// LoginResponse 登录响应，前端自行跳转到 AuthURL
type LoginResponse struct {
	AuthURL string `json:"authUrl"`
	Success bool   `json:"success"`
}

// CallbackRequest 身份提供方回调参数
type CallbackRequest struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult 回调结果，由 handler 转换成 302 重定向
type CallbackResult struct {
	// Token 成功时的应用 token
	Token string
	// Error 失败时的错误码（provider 错误时为其原始错误码）
	Error            string
	ErrorDescription string
	ReturnTo         string

	SessionID        string
	SessionExpiresAt time.Time

	// Outcome 固定取值，用作 metrics label："success" 或失败原因
	Outcome string
}

// UserInfo 用户信息 DTO
type UserInfo struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	TenantID string `json:"tenantId"`
}

// MeResponse /auth/me 响应
type MeResponse struct {
	User UserInfo `json:"user"`
}

// LogoutRequest 登出请求
type LogoutRequest struct {
	SessionID string
	// Authenticated 请求是否携带了有效的 bearer token
	Authenticated bool
}

// LogoutResponse 登出响应
type LogoutResponse struct {
	LogoutURL string `json:"logoutUrl"`
	Success   bool   `json:"success"`
}

// VerifyRequest POST /auth/verify 请求体
type VerifyRequest struct {
	Token string `json:"token"`
}

// VerifyResponse token 校验响应
type VerifyResponse struct {
	Valid     bool      `json:"valid"`
	User      *UserInfo `json:"user,omitempty"`
	ExpiresAt string    `json:"expiresAt,omitempty"`
}

// ErrorResponse 通用错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// AuthService 认证服务接口（由 service 层实现）
type AuthService interface {
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	Callback(ctx context.Context, req *CallbackRequest) *CallbackResult
	Verify(ctx context.Context, token string) (*VerifyResponse, error)
	Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error)
}

// UserFromPrincipal principal -> UserInfo
func UserFromPrincipal(p *auth.Principal) UserInfo {
	return UserInfo{
		ID:       p.SubjectID,
		Email:    p.Email,
		Name:     p.DisplayName,
		TenantID: p.TenantID,
	}
}
