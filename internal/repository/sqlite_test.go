package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"papers-gateway/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_UpsertThenFind(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, found, err := s.FindUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.UpsertUser(ctx, domain.User{Email: "a@x.com", IsAdmin: true}))

	user, found, err := s.FindUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a@x.com", user.Email)
	require.True(t, user.IsAdmin)
	require.NotEmpty(t, user.CreatedAt)
}

func TestSQLiteStore_UpsertReplacesRecord(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, s.UpsertUser(ctx, domain.User{Email: "a@x.com", IsAdmin: true}))

	s.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, s.UpsertUser(ctx, domain.User{Email: "a@x.com", IsAdmin: false}))

	user, found, err := s.FindUser(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, user.IsAdmin)
	require.Equal(t, "2026-02-01T00:00:00Z", user.CreatedAt)
	require.Equal(t, "2026-02-01T00:00:00Z", user.UpdatedAt)
}

func TestSQLiteStore_EmailIsCaseSensitive(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, domain.User{Email: "a@x.com"}))

	_, found, err := s.FindUser(ctx, "A@x.com")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSQLiteStore_RequiresEmail(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, _, err := s.FindUser(context.Background(), "")
	require.ErrorContains(t, err, "email is required")

	err = s.UpsertUser(context.Background(), domain.User{})
	require.ErrorContains(t, err, "email is required")
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertUser(context.Background(), domain.User{Email: "a@x.com", IsAdmin: true}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	user, found, err := s.FindUser(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, user.IsAdmin)
}
