package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 2*time.Hour, cfg.Collab.SessionIdleTTL)
	require.Equal(t, 5*time.Minute, cfg.Collab.SweepInterval)
	require.Equal(t, 4000, cfg.Collab.MaxCommentLength)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    database: inkwell
    username: ink
collab:
  session_idle_ttl: 30m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 30*time.Minute, cfg.Collab.SessionIdleTTL)

	dbCfg := cfg.DatabaseConfigValue()
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5433, dbCfg.Port)
	require.Equal(t, "inkwell", dbCfg.Name)
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Error(t, cfg.Validate())

	cfg.Auth.JWT.Secret = "test-secret"
	require.NoError(t, cfg.Validate())
}
