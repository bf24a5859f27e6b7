package auth

import (
	"log/slog"
	"time"
)

// ProviderClaims is the raw ID token claim set. Microsoft and generic OIDC
// providers disagree on which fields carry the account, so MapIdentity
// resolves them once.
type ProviderClaims struct {
	Sub               string `json:"sub"`
	OID               string `json:"oid"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	UPN               string `json:"upn"`
	TID               string `json:"tid"`
}

// ExchangeResult is what the token endpoint returned for one authorization code.
type ExchangeResult struct {
	AccessToken string
	IDToken     string
	Expiry      time.Time
	Account     ProviderClaims
}

// IdentityClaims is the verified identity produced by a callback. Never persisted.
type IdentityClaims struct {
	SubjectID           string
	Email               string
	DisplayName         string
	TenantID            string
	ProviderAccessToken string
	ProviderIDToken     string
}

// LogValue keeps provider tokens out of logs.
func (c IdentityClaims) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sub", c.SubjectID),
		slog.String("email", c.Email),
		slog.String("tid", c.TenantID),
	)
}

// AppToken is a signed application bearer token and the claims it carries.
type AppToken struct {
	Token       string
	SubjectID   string
	Email       string
	DisplayName string
	TenantID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Principal is the identity decoded from a valid AppToken for one request.
type Principal struct {
	SubjectID   string
	Email       string
	DisplayName string
	TenantID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
