package auth

import (
	"context"
	"errors"
	"net"

	"golang.org/x/oauth2"
)

var (
	// ErrConfiguration is returned when provider settings needed by a call are missing.
	ErrConfiguration = errors.New("auth configuration error")
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing authentication token")
	// ErrInvalidToken covers bad signatures, wrong issuer and expiry alike.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrIDToken is returned when the provider ID token is absent or fails verification.
	ErrIDToken = errors.New("id token verification failed")
	// ErrIdentity is returned when provider claims cannot produce an identity.
	ErrIdentity = errors.New("incomplete provider identity")
)

// Exchange failure causes, for server-side logs and metrics only.
const (
	CauseInvalidGrant  = "invalid_grant"
	CauseInvalidClient = "invalid_client"
	CauseTimeout       = "timeout"
	CauseIDToken       = "id_token"
	CauseIdentity      = "identity"
	CauseProvider      = "provider"
	CauseNetwork       = "network"
)

// ClassifyExchangeError names the reason a code exchange failed.
func ClassifyExchangeError(err error) string {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		switch rErr.ErrorCode {
		case CauseInvalidGrant, CauseInvalidClient:
			return rErr.ErrorCode
		}
		return CauseProvider
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return CauseTimeout
	case errors.Is(err, ErrIDToken):
		return CauseIDToken
	case errors.Is(err, ErrIdentity):
		return CauseIdentity
	}
	return CauseNetwork
}
