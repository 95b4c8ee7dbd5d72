package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("redis cleanup: %w", io.EOF), true},
		{"network", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, true},
		{"redis nil", redis.Nil, false},
		{"client closed", redis.ErrClosed, false},
		{"other", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestIsTransientErrorSQLiteBusy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ratelimit.db")
	repo, err := NewSQLiteRateLimitRepository(path, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	open := func() *sql.DB {
		db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(0)")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db
	}

	// One connection holds the write lock; a second writer cannot wait.
	holder, err := open().Conn(ctx)
	require.NoError(t, err)
	_, err = holder.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = holder.ExecContext(ctx, "ROLLBACK")
		_ = holder.Close()
	})

	_, err = open().ExecContext(ctx, "INSERT INTO rate_limit_blacklist (ip, created_at) VALUES ('192.0.2.1', 0)")
	require.Error(t, err)
	assert.True(t, IsTransientError(fmt.Errorf("sqlite add to blacklist: %w", err)))
}
