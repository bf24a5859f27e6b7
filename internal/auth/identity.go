package auth

import (
	"fmt"
	"strings"
)

// MapIdentity resolves provider claims into IdentityClaims.
//
// Subject prefers the Microsoft object id, which is stable across
// applications, over the pairwise sub. Email falls back to the sign-in name
// because work accounts often have no email claim. Display name falls back
// to the email.
func MapIdentity(res *ExchangeResult) (IdentityClaims, error) {
	if res == nil {
		return IdentityClaims{}, fmt.Errorf("%w: empty exchange result", ErrIdentity)
	}
	acct := res.Account

	subject := firstNonEmpty(acct.OID, acct.Sub)
	if subject == "" {
		return IdentityClaims{}, fmt.Errorf("%w: no subject claim", ErrIdentity)
	}

	email := firstNonEmpty(acct.Email, acct.PreferredUsername, acct.UPN)
	if email == "" {
		return IdentityClaims{}, fmt.Errorf("%w: no email or username claim", ErrIdentity)
	}

	return IdentityClaims{
		SubjectID:           subject,
		Email:               email,
		DisplayName:         firstNonEmpty(acct.Name, email),
		TenantID:            acct.TID,
		ProviderAccessToken: res.AccessToken,
		ProviderIDToken:     res.IDToken,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
