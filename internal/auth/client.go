package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"authbridge/internal/conf"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCClient wraps OIDC provider and OAuth2 configuration
type OIDCClient struct {
	provider      *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	oauth2Config  oauth2.Config
	httpClient    *http.Client
	timeout       time.Duration
	endSessionURL string
}

// providerMetadata holds discovery fields go-oidc does not expose directly.
type providerMetadata struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// NewOIDCClient creates a new OIDC client
func NewOIDCClient(ctx context.Context, cfg *conf.Auth, redirectURL string) (*OIDCClient, error) {
	issuer := cfg.GetIssuer()
	switch {
	case issuer == "":
		return nil, fmt.Errorf("%w: provider issuer is not set", ErrConfiguration)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("%w: client id is not set", ErrConfiguration)
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("%w: client secret is not set", ErrConfiguration)
	case redirectURL == "":
		return nil, fmt.Errorf("%w: redirect url is not set", ErrConfiguration)
	}

	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	// Initialize OIDC provider (discovers .well-known/openid-configuration)
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}
	endSession := meta.EndSessionEndpoint
	if endSession == "" {
		endSession = cfg.EndSessionURL
	}

	// Configure OAuth2
	oauth2Config := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret.Value(),
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes(),
	}

	// Configure JWT verifier
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &OIDCClient{
		provider:      provider,
		verifier:      verifier,
		oauth2Config:  oauth2Config,
		httpClient:    httpClient,
		timeout:       timeout,
		endSessionURL: endSession,
	}, nil
}

// AuthCodeURL returns the authorization URL for state. The account picker is
// always shown so a shared browser does not silently reuse the last account.
// An empty codeVerifier disables PKCE; an empty loginHint is omitted.
func (c *OIDCClient) AuthCodeURL(state, codeVerifier, loginHint string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	if codeVerifier != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", GenerateCodeChallenge(codeVerifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	return c.oauth2Config.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code and verifies the returned ID token.
// The round trip is bounded by the configured exchange timeout.
func (c *OIDCClient) Exchange(ctx context.Context, code, codeVerifier string) (*ExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = oidc.ClientContext(ctx, c.httpClient)

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	oauth2Token, err := c.oauth2Config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	// Extract ID token
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: no id_token in response", ErrIDToken)
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIDToken, err)
	}

	var account ProviderClaims
	if err := idToken.Claims(&account); err != nil {
		return nil, fmt.Errorf("%w: parse claims: %w", ErrIDToken, err)
	}

	return &ExchangeResult{
		AccessToken: oauth2Token.AccessToken,
		IDToken:     rawIDToken,
		Expiry:      oauth2Token.Expiry,
		Account:     account,
	}, nil
}

// EndSessionURL builds the provider logout URL so signing out also ends the
// provider session.
func (c *OIDCClient) EndSessionURL(postLogoutRedirect, idTokenHint string) (string, error) {
	return BuildEndSessionURL(c.endSessionURL, c.oauth2Config.ClientID, postLogoutRedirect, idTokenHint)
}

// BuildEndSessionURL appends RP-initiated logout parameters to endpoint.
func BuildEndSessionURL(endpoint, clientID, postLogoutRedirect, idTokenHint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("%w: provider has no end_session_endpoint", ErrConfiguration)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: bad end session url: %w", ErrConfiguration, err)
	}
	q := u.Query()
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// === PKCE Support ===

// GenerateCodeVerifier generates a random code verifier for PKCE
// Returns a base64-url-encoded random string (43-128 characters)
func GenerateCodeVerifier() (string, error) {
	// Generate 32 random bytes (will be 43 chars after base64url encoding)
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	// Base64-URL encode without padding
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// GenerateCodeChallenge generates a code challenge from the verifier
// Uses SHA256 and base64-url encoding as per RFC 7636
func GenerateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
