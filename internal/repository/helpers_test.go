package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionlab/companion-server/internal/database"
)

type rowStub struct {
	err error
}

func (s rowStub) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.err != nil {
		return s.err
	}
	*dest.(*int) = 7
	return nil
}

func (s rowStub) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.err
}

func (s rowStub) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, s.err
}

func (s rowStub) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func TestGetOptional(t *testing.T) {
	ctx := context.Background()

	got, err := getOptional[int](ctx, rowStub{err: sql.ErrNoRows}, "q")
	assert.NoError(t, err)
	assert.Nil(t, got)

	boom := errors.New("boom")
	got, err = getOptional[int](ctx, rowStub{err: boom}, "q")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)

	got, err = getOptional[int](ctx, rowStub{}, "q")
	require.NoError(t, err)
	assert.Equal(t, 7, *got)
}

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"math", "%math%"},
		{"", "%%"},
		{"100%", `%100\%%`},
		{"snake_case", `%snake\_case%`},
		{`back\slash`, `%back\\slash%`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsPattern(tt.in))
		})
	}
}

// setupTestDB connects to TEST_DATABASE_URL, applies migrations and empties every table.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))

	_, err = db.Exec(`TRUNCATE bookmarks, session_history, companions`)
	require.NoError(t, err)

	return db
}
