package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamforge/coin-engine/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "./data/coins.db", cfg.Database.Path)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.DeviceTTL.Duration)
	assert.Equal(t, 12*time.Hour, cfg.Auth.AdminTTL.Duration)
	assert.Equal(t, int64(5000), cfg.Game.InviteReward)
	assert.Equal(t, 7*24*time.Hour, cfg.Game.InviteExpiry.Duration)
	assert.Equal(t, int64(1000), cfg.Game.MediaReward)
	assert.Equal(t, 100, cfg.Game.LeaderboardLimit)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_PartialFileOverridesOnlyNamedKeys(t *testing.T) {
	// GIVEN: A TOML file naming a few keys
	// WHEN: Loaded
	// THEN: Named keys override, everything else keeps its default

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[server]
addr = ":9090"
shutdown_timeout = "30s"

[auth]
jwt_secret = "super-secret"
device_token_ttl = "720h"

[game]
invite_reward = 9000
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 720*time.Hour, cfg.Auth.DeviceTTL.Duration)
	assert.Equal(t, int64(9000), cfg.Game.InviteReward)

	// Untouched keys hold their defaults.
	assert.Equal(t, "./data/coins.db", cfg.Database.Path)
	assert.Equal(t, int64(1000), cfg.Game.MediaReward)
	assert.Equal(t, 12*time.Hour, cfg.Auth.AdminTTL.Duration)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
shutdown_timeout = "soon"
`), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
