package data

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"authbridge/internal/biz"
)

// memorySessionRepo manages sessions in memory.
type memorySessionRepo struct {
	sessions sync.Map // map[sessionID]biz.Session
}

// NewMemorySessionRepo creates an in-memory session repository.
func NewMemorySessionRepo() biz.SessionRepo {
	return &memorySessionRepo{}
}

// Create stores a session.
func (r *memorySessionRepo) Create(_ context.Context, s *biz.Session) error {
	r.sessions.Store(s.ID, *s)
	return nil
}

// Get retrieves a session by ID
func (r *memorySessionRepo) Get(_ context.Context, id string) (*biz.Session, error) {
	val, ok := r.sessions.Load(id)
	if !ok {
		return nil, biz.ErrSessionNotFound
	}
	session := val.(biz.Session)

	// Check if expired
	if time.Now().After(session.ExpiresAt) {
		r.sessions.Delete(id)
		return nil, biz.ErrSessionNotFound
	}

	return &session, nil
}

// Delete removes a session
func (r *memorySessionRepo) Delete(_ context.Context, id string) error {
	r.sessions.Delete(id)
	return nil
}

// DeleteExpired removes sessions expired at now.
func (r *memorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	r.sessions.Range(func(key, value any) bool {
		session := value.(biz.Session)
		if now.After(session.ExpiresAt) {
			r.sessions.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}

// Close is a no-op.
func (r *memorySessionRepo) Close() error {
	return nil
}

// RunSessionCleanup runs periodically to remove expired sessions
func RunSessionCleanup(ctx context.Context, bridge *biz.SessionBridge, interval time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := bridge.Cleanup(ctx)
			if err != nil {
				log.Warn("background session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("background cleanup removed expired sessions", "count", n)
			}
		}
	}
}
