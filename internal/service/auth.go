package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"authbridge/internal/api"
	"authbridge/internal/auth"
	"authbridge/internal/biz"
)

// Verifier 校验应用 token
type Verifier interface {
	Verify(raw string) (*auth.Principal, error)
}

// authService 认证服务实现
type authService struct {
	loginUsecase       *biz.LoginUsecase
	verifier           Verifier
	sessions           *biz.SessionBridge
	postLogoutRedirect string
	log                *slog.Logger
}

// NewAuthService 创建 AuthService。sessions 可以为 nil
func NewAuthService(
	loginUsecase *biz.LoginUsecase,
	verifier Verifier,
	sessions *biz.SessionBridge,
	postLogoutRedirect string,
	log *slog.Logger,
) api.AuthService {
	if log == nil {
		log = slog.Default()
	}
	return &authService{
		loginUsecase:       loginUsecase,
		verifier:           verifier,
		sessions:           sessions,
		postLogoutRedirect: postLogoutRedirect,
		log:                log,
	}
}

// Login 生成 state 并返回身份提供方授权地址
func (s *authService) Login(ctx context.Context, req *api.LoginRequest) (*api.LoginResponse, error) {
	res, err := s.loginUsecase.Initiate(ctx, biz.InitiateRequest{
		SessionHint: req.SessionID,
		UserAgent:   req.UserAgent,
		LoginHint:   req.LoginHint,
		ReturnTo:    req.ReturnTo,
	})
	if err != nil {
		return nil, err
	}
	return &api.LoginResponse{AuthURL: res.AuthURL, Success: true}, nil
}

// Callback 完成授权码流程，biz 结果 -> api DTO
func (s *authService) Callback(ctx context.Context, req *api.CallbackRequest) *api.CallbackResult {
	res := s.loginUsecase.Complete(ctx, biz.CallbackParams{
		Code:             req.Code,
		State:            req.State,
		Error:            req.Error,
		ErrorDescription: req.ErrorDescription,
	})

	if !res.Succeeded() {
		out := &api.CallbackResult{Error: string(res.Reason), Outcome: string(res.Reason)}
		if res.Reason == biz.ReasonProviderError {
			out.Error = res.ProviderError
			out.ErrorDescription = res.ProviderErrorDescription
		}
		if out.Error == "" {
			out.Error = string(biz.ReasonServerError)
		}
		if out.Outcome == "" {
			out.Outcome = string(biz.ReasonServerError)
		}
		return out
	}

	out := &api.CallbackResult{
		Token:    res.Token.Token,
		ReturnTo: res.ReturnTo,
		Outcome:  "success",
	}
	if res.Session != nil {
		out.SessionID = res.Session.ID
		out.SessionExpiresAt = res.Session.ExpiresAt
	}
	return out
}

// Verify 校验 token 并返回其中的用户信息
func (s *authService) Verify(_ context.Context, token string) (*api.VerifyResponse, error) {
	principal, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	user := api.UserFromPrincipal(principal)
	return &api.VerifyResponse{
		Valid:     true,
		User:      &user,
		ExpiresAt: principal.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Logout 销毁本地会话并返回身份提供方登出地址
func (s *authService) Logout(ctx context.Context, req *api.LogoutRequest) (*api.LogoutResponse, error) {
	hasSession := false
	if req.SessionID != "" {
		_, err := s.sessions.Lookup(ctx, req.SessionID)
		switch {
		case err == nil:
			hasSession = true
		case !errors.Is(err, biz.ErrSessionNotFound):
			return nil, err
		}
	}
	if !req.Authenticated && !hasSession {
		return nil, api.ErrNotAuthenticated
	}

	if hasSession {
		if err := s.sessions.Destroy(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}

	logoutURL, err := s.sessions.ProviderLogoutURL(s.postLogoutRedirect)
	if err != nil {
		// 没有 end-session 端点时只做本地登出
		s.log.Warn("provider logout url unavailable, falling back to local logout", "error", err)
		logoutURL = s.postLogoutRedirect
	}
	return &api.LogoutResponse{LogoutURL: logoutURL, Success: true}, nil
}
