package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "config-test-secret-123"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XP_JWT_SECRET", secret)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout())
	assert.Equal(t, []string{"*"}, cfg.Server.CORS.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./data/xp.db", cfg.Database.DSN)
	assert.Equal(t, "prod", cfg.Log.Mode)
	assert.Equal(t, 1, cfg.Backfill.Concurrency)
	assert.Equal(t, 3, cfg.Backfill.RetryAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Backfill.RetryDelay())
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Lock.TTL())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  scenarios: true
database:
  driver: postgres
  dsn: postgres://localhost/xp
backfill:
  concurrency: 4
log:
  mode: dev
`)
	t.Setenv("XP_JWT_SECRET", secret)
	t.Setenv("XP_DATABASE_DSN", "postgres://db.internal/xp")
	t.Setenv("XP_BACKFILL_RETRY_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Scenarios)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db.internal/xp", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Backfill.Concurrency)
	assert.Equal(t, 5, cfg.Backfill.RetryAttempts)
	assert.Equal(t, "dev", cfg.Log.Mode)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("XP_JWT_SECRET", "")

	_, err := Load("")

	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestLoad_UnreadableFile(t *testing.T) {
	path := writeConfig(t, "server: [")
	t.Setenv("XP_JWT_SECRET", secret)

	_, err := Load(path)

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080, RequestTimeoutSeconds: 30, CORS: CORSConfig{AllowedOrigins: []string{"*"}}},
			Database: DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
			Auth:     AuthConfig{JWTSecret: secret},
			Log:      LogConfig{Mode: "prod"},
			Backfill: BackfillConfig{Concurrency: 1, RetryAttempts: 1, ReportRecentEvents: 10},
			Lock:     LockConfig{Driver: "local", TTLSeconds: 60},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "database.driver",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Lock.Driver = "redis" },
			wantErr: "lock.redis_addr",
		},
		{
			name:   "redis with address",
			mutate: func(c *Config) { c.Lock.Driver = "redis"; c.Lock.RedisAddr = "localhost:6379" },
		},
		{
			name:    "missing badge catalogue",
			mutate:  func(c *Config) { c.Backfill.BadgeCatalog = "/does/not/exist.yaml" },
			wantErr: "must be an existing and readable file",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Backfill.Concurrency = 0 },
			wantErr: "backfill.concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
