package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret  = []byte("0123456789abcdef0123456789abcdef")
	otherSecret = []byte("fedcba9876543210fedcba9876543210")
)

func testIdentity() IdentityClaims {
	return IdentityClaims{
		SubjectID:           "oid-42",
		Email:               "ada@example.com",
		DisplayName:         "Ada Lovelace",
		TenantID:            "tenant-1",
		ProviderAccessToken: "provider-access",
		ProviderIDToken:     "provider-id",
	}
}

func newPair(t *testing.T, now func() time.Time) (*TokenIssuer, *TokenVerifier) {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, "authbridge", 0, WithClock(now))
	require.NoError(t, err)
	verifier, err := NewTokenVerifier(testSecret, "authbridge", WithClock(now))
	require.NoError(t, err)
	return issuer, verifier
}

// TestMintAndVerify checks a minted token round-trips to the same identity.
func TestMintAndVerify(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	issuer, verifier := newPair(t, func() time.Time { return now })

	tok, err := issuer.Mint(testIdentity())
	require.NoError(t, err)
	assert.Equal(t, now, tok.IssuedAt)
	assert.Equal(t, now.Add(24*time.Hour), tok.ExpiresAt)

	p, err := verifier.Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "oid-42", p.SubjectID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "Ada Lovelace", p.DisplayName)
	assert.Equal(t, "tenant-1", p.TenantID)
	assert.WithinDuration(t, tok.ExpiresAt, p.ExpiresAt, 0)

	// Provider tokens never end up in the app token.
	assert.NotContains(t, tok.Token, "provider-access")
	parsed, _, err := jwt.NewParser().ParseUnverified(tok.Token, jwt.MapClaims{})
	require.NoError(t, err)
	for _, v := range parsed.Claims.(jwt.MapClaims) {
		if s, ok := v.(string); ok {
			assert.False(t, strings.HasPrefix(s, "provider-"))
		}
	}
}

// TestVerifyRejectsOtherKey checks that a token signed with another key is rejected.
func TestVerifyRejectsOtherKey(t *testing.T) {
	issuer, err := NewTokenIssuer(otherSecret, "authbridge", 0)
	require.NoError(t, err)
	_, verifier := newPair(t, time.Now)

	tok, err := issuer.Mint(testIdentity())
	require.NoError(t, err)

	_, err = verifier.Verify(tok.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

// TestVerifyRejectsExpired checks that expiry fails with the same error as a bad key.
func TestVerifyRejectsExpired(t *testing.T) {
	minted := time.Now().Add(-25 * time.Hour)
	issuer, err := NewTokenIssuer(testSecret, "authbridge", 0, WithClock(func() time.Time { return minted }))
	require.NoError(t, err)
	_, verifier := newPair(t, time.Now)

	tok, err := issuer.Mint(testIdentity())
	require.NoError(t, err)

	_, err = verifier.Verify(tok.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

// TestVerifyRejectsOtherAlgorithms checks alg confusion is refused.
func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	_, verifier := newPair(t, time.Now)

	claims := jwt.MapClaims{
		"sub": "oid-42",
		"iss": "authbridge",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = verifier.Verify(none)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = verifier.Verify(hs512)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

// TestVerifyRejectsWrongIssuer checks the issuer claim.
func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, "someone-else", 0)
	require.NoError(t, err)
	_, verifier := newPair(t, time.Now)

	tok, err := issuer.Mint(testIdentity())
	require.NoError(t, err)
	_, err = verifier.Verify(tok.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

// TestVerifyGarbage covers malformed and empty input.
func TestVerifyGarbage(t *testing.T) {
	_, verifier := newPair(t, time.Now)

	_, err := verifier.Verify("garbage")
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = verifier.Verify("")
	assert.True(t, errors.Is(err, ErrMissingToken))
}

// TestNewTokenIssuerShortSecret checks the secret length guard.
func TestNewTokenIssuerShortSecret(t *testing.T) {
	_, err := NewTokenIssuer([]byte("short"), "authbridge", 0)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewTokenVerifier([]byte("short"), "authbridge")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

// TestMintRequiresSubject checks that an identity without subject is refused.
func TestMintRequiresSubject(t *testing.T) {
	issuer, _ := newPair(t, time.Now)
	_, err := issuer.Mint(IdentityClaims{Email: "x@example.com"})
	assert.True(t, errors.Is(err, ErrIdentity))
}
