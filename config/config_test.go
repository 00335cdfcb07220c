package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/duel")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5200", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, DefaultTiming(), cfg.Timing)
	assert.False(t, cfg.Archive.Enabled())
	assert.Equal(t, "sessions", cfg.Archive.Prefix)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/duel.db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("READY_CHECK_TIMEOUT", "15s")
	t.Setenv("POOL_MAX_SIZE", "8")
	t.Setenv("ARCHIVE_BUCKET", "duels")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Timing.ReadyCheckTimeout)
	assert.Equal(t, 8, cfg.Timing.PoolMaxSize)
	assert.Len(t, cfg.AllowedOrigins, 2)
	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "auto", cfg.Archive.Region)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing token",
			env:  map[string]string{"DATABASE_URL": "postgres://x"},
			want: "GAME_SERVICE_TOKEN",
		},
		{
			name: "postgres without url",
			env:  map[string]string{"GAME_SERVICE_TOKEN": "t"},
			want: "DATABASE_URL",
		},
		{
			name: "unknown driver",
			env:  map[string]string{"GAME_SERVICE_TOKEN": "t", "DB_DRIVER": "mysql"},
			want: "unsupported DB_DRIVER",
		},
		{
			name: "pool too small",
			env:  map[string]string{"GAME_SERVICE_TOKEN": "t", "DATABASE_URL": "postgres://x", "POOL_MAX_SIZE": "1"},
			want: "POOL_MAX_SIZE",
		},
		{
			name: "bad duration",
			env:  map[string]string{"GAME_SERVICE_TOKEN": "t", "DATABASE_URL": "postgres://x", "PAUSE_GRACE": "soon"},
			want: "parse env:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GAME_SERVICE_TOKEN", "")
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
