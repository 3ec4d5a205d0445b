package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

upstream:
  base_url: https://upstream.example.com

auth:
  accounts_dir: /var/lib/geminigate/accounts
  client_id: test-client
  client_secret: ${TEST_CLIENT_SECRET}
  refresh_interval: 2m
  refresh_ahead: 5m

signatures:
  ttl: 30m

models:
  map:
    claude-sonnet-4-5: gemini-3-pro-preview

log:
  level: debug
  format: json
`)
	t.Setenv("TEST_CLIENT_SECRET", "shh-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	assert.Equal(t, "https://upstream.example.com", cfg.Upstream.BaseURL)

	assert.Equal(t, "/var/lib/geminigate/accounts", cfg.Auth.AccountsDir)
	assert.Equal(t, "test-client", cfg.Auth.ClientID)
	assert.Equal(t, "shh-secret", cfg.Auth.ClientSecret)
	assert.Equal(t, 2*time.Minute, cfg.Auth.RefreshInterval)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshAhead)

	assert.Equal(t, 30*time.Minute, cfg.Signatures.TTL)
	assert.Equal(t, "gemini-3-pro-preview", cfg.Models.Map["claude-sonnet-4-5"])

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  accounts_dir: /tmp/accounts
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, time.Hour, cfg.Signatures.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
auth:
  accounts_dir: /tmp/accounts
`)
	t.Setenv("GEMINIGATE_SERVER_PORT", "3000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadRequiresAccountsDir(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounts_dir")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
