package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"authbridge/internal/biz"

	_ "modernc.org/sqlite"
)

// sqliteSessionRepo SQLite 实现的会话仓库
type sqliteSessionRepo struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteSessionRepo 创建 SQLite 会话仓库
func NewSQLiteSessionRepo(dbPath string, log *slog.Logger) (biz.SessionRepo, error) {
	if log == nil {
		log = slog.Default()
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			email TEXT NOT NULL,
			display_name TEXT,
			tenant_id TEXT,
			app_token TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions index: %w", err)
	}

	return &sqliteSessionRepo{db: db, log: log}, nil
}

// Create 创建会话
func (r *sqliteSessionRepo) Create(ctx context.Context, s *biz.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, subject_id, email, display_name, tenant_id, app_token, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SubjectID, s.Email, s.DisplayName, s.TenantID, s.AppToken,
		s.CreatedAt.UnixNano(), s.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get 获取会话（过期视为不存在）
func (r *sqliteSessionRepo) Get(ctx context.Context, id string) (*biz.Session, error) {
	var (
		s                    biz.Session
		displayName, tenant  sql.NullString
		createdAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, subject_id, email, display_name, tenant_id, app_token, created_at, expires_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.SubjectID, &s.Email, &displayName, &tenant, &s.AppToken, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, biz.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	s.DisplayName = displayName.String
	s.TenantID = tenant.String
	s.CreatedAt = time.Unix(0, createdAt)
	s.ExpiresAt = time.Unix(0, expiresAt)

	if time.Now().After(s.ExpiresAt) {
		// 删除失败不影响结果，过期会话由 DeleteExpired 兜底
		if _, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
			r.log.Warn("failed to delete expired session", "error", err)
		}
		return nil, biz.ErrSessionNotFound
	}
	return &s, nil
}

// Delete 删除会话
func (r *sqliteSessionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired 清理过期会话
func (r *sqliteSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close 关闭数据库连接
func (r *sqliteSessionRepo) Close() error {
	return r.db.Close()
}
