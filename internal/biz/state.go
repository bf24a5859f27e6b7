package biz

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultStateTTL bounds how long a login may stay pending.
const DefaultStateTTL = 10 * time.Minute

// AuthorizationState is one pending login attempt.
type AuthorizationState struct {
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	SessionHint  string    `json:"session_hint,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ReturnTo     string    `json:"return_to,omitempty"`
	CodeVerifier string    `json:"code_verifier,omitempty"` // For PKCE
}

// Expired reports whether the state is older than ttl at now.
func (s *AuthorizationState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// StateStore is the single-use CSRF state cache.
//
// Consume must read and delete atomically so that concurrent callbacks with
// the same state see at most one success. A state older than the store TTL
// is reported as ErrStateNotFound even if Sweep has not run yet.
type StateStore interface {
	// Put inserts a new state. An existing key is ErrStateExists.
	Put(ctx context.Context, s *AuthorizationState) error
	// Consume removes and returns the state, or ErrStateNotFound.
	Consume(ctx context.Context, state string) (*AuthorizationState, error)
	// Sweep removes every state older than the TTL at now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// GenerateState returns 256 random bits, base64url encoded.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
