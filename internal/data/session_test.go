package data

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"authbridge/internal/biz"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionRepo(t *testing.T, repo biz.SessionRepo) {
	ctx := context.Background()
	now := time.Now()

	live := &biz.Session{
		ID:          "live",
		SubjectID:   "sub-1",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		TenantID:    "tenant-1",
		AppToken:    "app.jwt",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	expired := &biz.Session{
		ID:        "expired",
		SubjectID: "sub-2",
		Email:     "bob@example.com",
		AppToken:  "old.jwt",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	stale := &biz.Session{
		ID:        "stale",
		SubjectID: "sub-3",
		Email:     "carol@example.com",
		AppToken:  "stale.jwt",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, stale))

	got, err := repo.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", got.SubjectID)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "app.jwt", got.AppToken)
	assert.WithinDuration(t, live.ExpiresAt, got.ExpiresAt, 0)

	_, err = repo.Get(ctx, "expired")
	assert.True(t, errors.Is(err, biz.ErrSessionNotFound))
	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, biz.ErrSessionNotFound))

	// "expired" was already dropped by Get.
	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.Delete(ctx, "live"))
	require.NoError(t, repo.Delete(ctx, "live"))
	_, err = repo.Get(ctx, "live")
	assert.True(t, errors.Is(err, biz.ErrSessionNotFound))
}

func TestMemorySessionRepo(t *testing.T) {
	repo := NewMemorySessionRepo()
	defer repo.Close()
	testSessionRepo(t, repo)
}

func TestSQLiteSessionRepo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	repo, err := NewSQLiteSessionRepo(path, discardLogger())
	require.NoError(t, err)
	defer repo.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	testSessionRepo(t, repo)
}

func TestSQLiteSessionRepoPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	repo, err := NewSQLiteSessionRepo(path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, &biz.Session{
		ID:        "s1",
		SubjectID: "sub-1",
		Email:     "alice@example.com",
		AppToken:  "app.jwt",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteSessionRepo(path, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestRunSessionCleanup(t *testing.T) {
	repo := NewMemorySessionRepo()
	bridge := biz.NewSessionBridge(repo, nil, time.Hour)
	require.NoError(t, repo.Create(context.Background(), &biz.Session{
		ID:        "old",
		SubjectID: "sub",
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSessionCleanup(ctx, bridge, 5*time.Millisecond, discardLogger()) }()

	assert.Eventually(t, func() bool {
		_, ok := repo.(*memorySessionRepo).sessions.Load("old")
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for a logger and a test reading concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingSessionRepo struct {
	biz.SessionRepo
}

func (failingSessionRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("database is locked")
}

func TestRunSessionCleanupLogsErrors(t *testing.T) {
	var out syncBuffer
	log := slog.New(slog.NewTextHandler(&out, nil))
	bridge := biz.NewSessionBridge(failingSessionRepo{}, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSessionCleanup(ctx, bridge, 5*time.Millisecond, log) }()

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "background session cleanup failed") &&
			strings.Contains(s, "database is locked")
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
