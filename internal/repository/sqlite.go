package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"papers-gateway/internal/domain"
)

// SQLiteStore keeps user records in a local SQLite file. It mirrors the
// DynamoDB table layout and is meant for local runs.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens or creates the database at path and ensures the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "user_store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repository: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: create schema: %w", err)
	}

	logger.Info("sqlite user store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			email      TEXT PRIMARY KEY,
			is_admin   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FindUser looks up a user by exact email. SQLite's default BINARY collation
// keeps the comparison case-sensitive, matching DynamoDB.
func (s *SQLiteStore) FindUser(ctx context.Context, email string) (domain.User, bool, error) {
	if email == "" {
		return domain.User{}, false, errors.New("repository: FindUser: email is required")
	}
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT email, is_admin, created_at, updated_at FROM users WHERE email = ?`, email,
	).Scan(&u.Email, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: FindUser query: %w", err)
	}
	return u, true, nil
}

// UpsertUser inserts the user or fully replaces the existing row.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user domain.User) error {
	if user.Email == "" {
		return errors.New("repository: UpsertUser: email is required")
	}
	now := s.now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			is_admin = excluded.is_admin,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		user.Email, user.IsAdmin, now, now,
	)
	if err != nil {
		return fmt.Errorf("repository: UpsertUser: %w", err)
	}
	return nil
}
