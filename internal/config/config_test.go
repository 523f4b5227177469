package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		require.Equal(t, ":8080", cfg.Server.Port)
		require.Equal(t, config.StorageMemory, cfg.Storage.Backend)
		require.Equal(t, filepath.Join("./data", "oidc.db"), cfg.Storage.SQLite)
		require.Equal(t, 100, cfg.Cleanup.BatchSize)
		require.Equal(t, cfg.KeyManagement.InitializationDuration/4, cfg.KeyManagement.KeyCacheDuration)
		require.True(t, cfg.IsDev())
	})

	t.Run("file", func(t *testing.T) {
		path := writeFile(t, "oidc.yaml", `
server:
  port: ":9000"
  base_url: https://id.example.com/
  env: PROD
storage:
  backend: sqlite
  sqlite_path: /var/lib/oidc.db
cleanup:
  interval: 30m
  batch_size: 250
device_flow:
  user_code_retry_limit: 8
`)
		cfg, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, ":9000", cfg.Server.Port)
		require.Equal(t, "https://id.example.com", cfg.Server.BaseURL)
		require.False(t, cfg.IsDev())
		require.Equal(t, config.StorageSQLite, cfg.Storage.Backend)
		require.Equal(t, "/var/lib/oidc.db", cfg.Storage.SQLite)
		require.Equal(t, 30*time.Minute, cfg.Cleanup.Interval)
		require.Equal(t, 250, cfg.Cleanup.BatchSize)
		require.Equal(t, 8, cfg.DeviceFlow.UserCodeRetryLimit)
	})

	t.Run("environment wins over the file", func(t *testing.T) {
		path := writeFile(t, "oidc.json", `{"server": {"port": "9000"}, "logging": {"level": "debug"}}`)
		t.Setenv("PORT", "7000")
		t.Setenv("OIDC_LOGGING_LEVEL", "warn")
		t.Setenv("OIDC_SECURITY_REQUIRE_PKCE", "true")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, ":7000", cfg.Server.Port)
		require.Equal(t, "warn", cfg.Logging.Level)
		require.True(t, cfg.Security.RequirePKCE)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"unknown backend", "storage:\n  backend: cassandra\n"},
			{"key expiry inside initialization", "key_management:\n  key_expiration: 24h\n  initialization_duration: 48h\n"},
			{"retirement before expiry", "key_management:\n  key_retirement: 720h\n"},
			{"batch size", "cleanup:\n  batch_size: 0\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := config.Load(writeFile(t, "oidc.yaml", tt.content))
				require.Error(t, err)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestGetEnv(t *testing.T) {
	t.Setenv("OIDC_TEST_VALUE", "set")
	require.Equal(t, "set", config.GetEnv("OIDC_TEST_VALUE", "default"))
	require.Equal(t, "default", config.GetEnv("OIDC_TEST_UNSET", "default"))
}
