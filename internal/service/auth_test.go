package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"authbridge/internal/api"
	"authbridge/internal/auth"
	"authbridge/internal/biz"
	"authbridge/internal/data"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{}

func (stubProvider) AuthCodeURL(state, _, _ string) string {
	return "https://idp.test/authorize?state=" + state
}

func (stubProvider) Exchange(context.Context, string, string) (*auth.ExchangeResult, error) {
	return nil, errors.New("invalid_grant")
}

func newService(t *testing.T, sessions *biz.SessionBridge) api.AuthService {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	secret := []byte("0123456789abcdef0123456789abcdef")
	issuer, err := auth.NewTokenIssuer(secret, "authbridge", time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewTokenVerifier(secret, "authbridge")
	require.NoError(t, err)
	uc := biz.NewLoginUsecase(data.NewMemoryStateStore(0), stubProvider{}, stubProvider{}, issuer, sessions, biz.LoginOptions{}, log)
	return NewAuthService(uc, verifier, sessions, "http://frontend.test/login", log)
}

func TestCallbackMapsReasons(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	res := svc.Callback(ctx, &api.CallbackRequest{Error: "consent_required", ErrorDescription: "AADSTS65001"})
	assert.Equal(t, "consent_required", res.Error)
	assert.Equal(t, "AADSTS65001", res.ErrorDescription)

	// A provider error with only a description still carries a code.
	res = svc.Callback(ctx, &api.CallbackRequest{ErrorDescription: "something broke"})
	assert.Equal(t, "provider_error", res.Error)

	login, err := svc.Login(ctx, &api.LoginRequest{})
	require.NoError(t, err)
	state := login.AuthURL[len("https://idp.test/authorize?state="):]

	res = svc.Callback(ctx, &api.CallbackRequest{Code: "C1", State: state})
	assert.Equal(t, "authentication_failed", res.Error)
	assert.Empty(t, res.Token)
	assert.Empty(t, res.ErrorDescription)
}

func TestLogoutFallsBackToLocalRedirect(t *testing.T) {
	svc := newService(t, biz.NewSessionBridge(data.NewMemorySessionRepo(), nil, time.Hour))

	resp, err := svc.Logout(context.Background(), &api.LogoutRequest{Authenticated: true})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "http://frontend.test/login", resp.LogoutURL)

	_, err = svc.Logout(context.Background(), &api.LogoutRequest{SessionID: "missing"})
	assert.True(t, errors.Is(err, api.ErrNotAuthenticated))
}

func TestCallbackOutcomeIsBounded(t *testing.T) {
	svc := newService(t, nil)
	res := svc.Callback(context.Background(), &api.CallbackRequest{Error: "made_up_by_attacker"})
	assert.Equal(t, "made_up_by_attacker", res.Error)
	assert.Equal(t, "provider_error", res.Outcome)
}
