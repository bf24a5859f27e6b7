package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"authbridge/internal/conf"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testRedirect = "http://localhost:52538/auth/callback"

// startProvider runs mockoidc. mockoidc rejects scopes outside openid, email,
// groups and profile, so round trips must use an empty resourceScope.
func startProvider(t *testing.T, resourceScope string) (*mockoidc.MockOIDC, *OIDCClient) {
	t.Helper()
	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })

	cfg := m.Config()
	client, err := NewOIDCClient(context.Background(), &conf.Auth{
		Provider:        m.Issuer(),
		ClientID:        cfg.ClientID,
		ClientSecret:    conf.Secret(cfg.ClientSecret),
		EndSessionURL:   m.Addr() + "/logout",
		ResourceScope:   resourceScope,
		ExchangeTimeout: 5 * time.Second,
	}, testRedirect)
	require.NoError(t, err)
	return m, client
}

// authorize follows the provider authorization endpoint and returns the code.
func authorize(t *testing.T, authURL string) (code, state string) {
	t.Helper()
	httpClient := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := httpClient.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("code"), loc.Query().Get("state")
}

// TestAuthCodeURL checks the parameters sent to the provider.
func TestAuthCodeURL(t *testing.T) {
	_, client := startProvider(t, "User.Read")

	raw := client.AuthCodeURL("state-1", "verifier-verifier-verifier-verifier-verifier", "ada@example.com")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, testRedirect, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid profile email User.Read", q.Get("scope"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "ada@example.com", q.Get("login_hint"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, GenerateCodeChallenge("verifier-verifier-verifier-verifier-verifier"), q.Get("code_challenge"))

	plain, err := url.Parse(client.AuthCodeURL("state-2", "", ""))
	require.NoError(t, err)
	assert.Empty(t, plain.Query().Get("code_challenge"))
	assert.Empty(t, plain.Query().Get("login_hint"))
}

// TestExchange runs a full authorization code round trip against a mock provider.
func TestExchange(t *testing.T) {
	m, client := startProvider(t, "")
	m.QueueUser(&mockoidc.MockUser{
		Subject:           "user-123",
		Email:             "ada@example.com",
		EmailVerified:     true,
		PreferredUsername: "ada",
	})

	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)
	code, state := authorize(t, client.AuthCodeURL("state-1", verifier, ""))
	require.NotEmpty(t, code)
	assert.Equal(t, "state-1", state)

	res, err := client.Exchange(context.Background(), code, verifier)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.IDToken)
	assert.Equal(t, "user-123", res.Account.Sub)
	assert.Equal(t, "ada@example.com", res.Account.Email)

	id, err := MapIdentity(res)
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.SubjectID)
	assert.Equal(t, "ada@example.com", id.Email)
}

// TestExchangeUnknownCode checks that a code the provider never issued fails.
func TestExchangeUnknownCode(t *testing.T) {
	_, client := startProvider(t, "")

	_, err := client.Exchange(context.Background(), "never-issued", "")
	require.Error(t, err)
}

// TestNewOIDCClientConfiguration checks missing settings fail before any network call.
func TestNewOIDCClientConfiguration(t *testing.T) {
	_, err := NewOIDCClient(context.Background(), &conf.Auth{ClientID: "c", ClientSecret: "s"}, testRedirect)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewOIDCClient(context.Background(), &conf.Auth{Provider: "https://idp.example.com", ClientSecret: "s"}, testRedirect)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewOIDCClient(context.Background(), &conf.Auth{Provider: "https://idp.example.com", ClientID: "c"}, testRedirect)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewOIDCClient(context.Background(), &conf.Auth{Provider: "https://idp.example.com", ClientID: "c", ClientSecret: "s"}, "")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

// TestEndSessionURL checks the provider logout URL.
func TestEndSessionURL(t *testing.T) {
	_, client := startProvider(t, "")

	raw, err := client.EndSessionURL("https://app.example.com/login", "")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/login", u.Query().Get("post_logout_redirect_uri"))
	assert.NotEmpty(t, u.Query().Get("client_id"))
}

// TestBuildEndSessionURL covers the URL builder without discovery.
func TestBuildEndSessionURL(t *testing.T) {
	raw, err := BuildEndSessionURL(
		"https://login.microsoftonline.com/contoso/oauth2/v2.0/logout?x=1",
		"client-1", "https://app.example.com/login", "hint")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/contoso/oauth2/v2.0/logout", u.Path)
	assert.Equal(t, "1", u.Query().Get("x"))
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/login", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, "hint", u.Query().Get("id_token_hint"))

	_, err = BuildEndSessionURL("", "client-1", "https://app.example.com/login", "")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

// TestClassifyExchangeError names each failure cause.
func TestClassifyExchangeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("token exchange: %w", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}), CauseInvalidGrant},
		{fmt.Errorf("token exchange: %w", &oauth2.RetrieveError{ErrorCode: "invalid_client"}), CauseInvalidClient},
		{&oauth2.RetrieveError{ErrorCode: "server_error"}, CauseProvider},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), CauseTimeout},
		{&url.Error{Op: "Post", URL: "https://idp", Err: timeoutErr{}}, CauseTimeout},
		{fmt.Errorf("%w: bad sig", ErrIDToken), CauseIDToken},
		{fmt.Errorf("%w: no sub", ErrIdentity), CauseIdentity},
		{errors.New("connection refused"), CauseNetwork},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyExchangeError(tt.err), tt.err.Error())
	}
}
