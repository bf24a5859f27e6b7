package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL is the lifetime of an application token.
	DefaultTokenTTL = 24 * time.Hour
	// MinSecretLen is the shortest HMAC secret accepted.
	MinSecretLen = 32
)

// appClaims is the JWT payload of an application token.
type appClaims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// TokenOption configures a TokenIssuer or TokenVerifier.
type TokenOption func(*tokenOptions)

type tokenOptions struct {
	now      func() time.Time
	observer func(outcome string)
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(o *tokenOptions) { o.now = now }
}

// WithVerifyObserver is called with "ok", "missing" or "invalid" after each
// middleware verification.
func WithVerifyObserver(fn func(outcome string)) TokenOption {
	return func(o *tokenOptions) { o.observer = fn }
}

func buildOptions(opts []TokenOption) tokenOptions {
	o := tokenOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return fmt.Errorf("%w: signing secret must be at least %d bytes", ErrConfiguration, MinSecretLen)
	}
	return nil
}

// TokenIssuer mints HS256 application tokens. Any TokenVerifier holding the
// same secret can validate them without calling the provider.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl means DefaultTokenTTL.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration, opts ...TokenOption) (*TokenIssuer, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	o := buildOptions(opts)
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: o.now}, nil
}

// Mint signs a token for the identity.
func (i *TokenIssuer) Mint(id IdentityClaims) (*AppToken, error) {
	if id.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrIdentity)
	}

	now := i.now()
	claims := appClaims{
		Email:    id.Email,
		Name:     id.DisplayName,
		TenantID: id.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &AppToken{
		Token:       signed,
		SubjectID:   id.SubjectID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		TenantID:    id.TenantID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// TokenVerifier validates application tokens.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	now      func() time.Time
	observer func(outcome string)
}

// NewTokenVerifier creates a TokenVerifier for tokens minted with secret by issuer.
func NewTokenVerifier(secret []byte, issuer string, opts ...TokenOption) (*TokenVerifier, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &TokenVerifier{secret: secret, issuer: issuer, now: o.now, observer: o.observer}, nil
}

// Verify checks signature, issuer and expiry. Every failure is ErrInvalidToken.
func (v *TokenVerifier) Verify(raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	var claims appClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	p := &Principal{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		TenantID:    claims.TenantID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}

func (v *TokenVerifier) observe(outcome string) {
	if v.observer != nil {
		v.observer(outcome)
	}
}
