package data

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"authbridge/internal/biz"
)

// MemoryStateStore manages CSRF state parameters and PKCE verifiers in memory.
// Suitable for single-instance deployments.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]biz.AuthorizationState
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStateStore creates a new state store. A zero ttl means biz.DefaultStateTTL.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = biz.DefaultStateTTL
	}
	return &MemoryStateStore{
		states: make(map[string]biz.AuthorizationState),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Put stores a state.
func (s *MemoryStateStore) Put(_ context.Context, st *biz.AuthorizationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[st.State]; ok {
		return biz.ErrStateExists
	}
	s.states[st.State] = *st
	return nil
}

// Consume checks and removes a state (one-time use).
func (s *MemoryStateStore) Consume(_ context.Context, state string) (*biz.AuthorizationState, error) {
	s.mu.Lock()
	data, ok := s.states[state]
	delete(s.states, state)
	s.mu.Unlock()

	if !ok || data.Expired(s.now(), s.ttl) {
		return nil, biz.ErrStateNotFound
	}
	return &data, nil
}

// Sweep removes states older than the TTL.
func (s *MemoryStateStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, data := range s.states {
		if data.Expired(now, s.ttl) {
			delete(s.states, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of pending states.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// RunSweeper calls Sweep on store every interval until ctx is done.
func RunSweeper(ctx context.Context, store biz.StateStore, interval time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := store.Sweep(ctx, now)
			if err != nil {
				log.Warn("background state sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("background sweep removed expired states", "count", n)
			}
		}
	}
}
