package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authbridge/internal/auth"

	"github.com/google/uuid"
)

// Session correlates a browser cookie with a verified identity and the
// application token minted for it. Provider tokens are never stored.
type Session struct {
	ID          string
	SubjectID   string
	Email       string
	DisplayName string
	TenantID    string
	AppToken    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SessionRepo 会话仓库接口
type SessionRepo interface {
	// Create stores a new session.
	Create(ctx context.Context, s *Session) error
	// Get returns a session or ErrSessionNotFound. Expired sessions are not returned.
	Get(ctx context.Context, id string) (*Session, error)
	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions expired at now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// Close releases the repository
	Close() error
}

// LogoutURLBuilder builds the identity provider end-session URL.
type LogoutURLBuilder interface {
	EndSessionURL(postLogoutRedirect, idTokenHint string) (string, error)
}

// SessionBridge ties the optional server-side session to the bearer token
// flow. The bearer token stays the source of truth: a session never extends
// a token's lifetime.
type SessionBridge struct {
	repo   SessionRepo
	logout LogoutURLBuilder
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionBridge creates a SessionBridge. repo may be nil, in which case
// only provider logout URLs are built.
func NewSessionBridge(repo SessionRepo, logout LogoutURLBuilder, ttl time.Duration) *SessionBridge {
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	return &SessionBridge{repo: repo, logout: logout, ttl: ttl, now: time.Now}
}

// Enabled reports whether sessions are stored.
func (b *SessionBridge) Enabled() bool {
	return b != nil && b.repo != nil
}

// Bind stores a session for identity and token.
func (b *SessionBridge) Bind(ctx context.Context, identity auth.IdentityClaims, token *auth.AppToken) (*Session, error) {
	if !b.Enabled() {
		return nil, errors.New("sessions are disabled")
	}
	now := b.now()
	expires := now.Add(b.ttl)
	if token != nil && !token.ExpiresAt.IsZero() && token.ExpiresAt.Before(expires) {
		expires = token.ExpiresAt
	}

	s := &Session{
		ID:          uuid.NewString(),
		SubjectID:   identity.SubjectID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		TenantID:    identity.TenantID,
		CreatedAt:   now,
		ExpiresAt:   expires,
	}
	if token != nil {
		s.AppToken = token.Token
	}
	if err := b.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Lookup returns a live session.
func (b *SessionBridge) Lookup(ctx context.Context, id string) (*Session, error) {
	if !b.Enabled() || id == "" {
		return nil, ErrSessionNotFound
	}
	return b.repo.Get(ctx, id)
}

// Destroy removes the session. A missing session is not an error.
func (b *SessionBridge) Destroy(ctx context.Context, id string) error {
	if !b.Enabled() || id == "" {
		return nil
	}
	return b.repo.Delete(ctx, id)
}

// Cleanup removes expired sessions.
func (b *SessionBridge) Cleanup(ctx context.Context) (int, error) {
	if !b.Enabled() {
		return 0, nil
	}
	return b.repo.DeleteExpired(ctx, b.now())
}

// ProviderLogoutURL returns the provider end-session URL.
func (b *SessionBridge) ProviderLogoutURL(postLogoutRedirect string) (string, error) {
	if b == nil || b.logout == nil {
		return "", fmt.Errorf("%w: no logout url builder", auth.ErrConfiguration)
	}
	return b.logout.EndSessionURL(postLogoutRedirect, "")
}
