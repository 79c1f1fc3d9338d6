/*
config.go - TOML configuration

PURPOSE:
  One Config struct covers the whole process: HTTP server, database path,
  token signing, and the game economy knobs. Load reads a TOML file over
  the defaults, so a partial file only overrides what it names.

EXAMPLE (config.toml):
  [server]
  addr = ":8080"

  [auth]
  jwt_secret = "change-me"

  [game]
  invite_reward = 5000
*/
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Game     GameConfig     `toml:"game"`
	LogLevel string         `toml:"log_level"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret     string   `toml:"jwt_secret"`
	DeviceTTL     duration `toml:"device_token_ttl"`
	AdminTTL      duration `toml:"admin_token_ttl"`
	AdminUsername string   `toml:"admin_username"`
	AdminPassword string   `toml:"admin_password"` // seeds the admin on first boot
}

type GameConfig struct {
	InviteReward     int64    `toml:"invite_reward"`
	InviteExpiry     duration `toml:"invite_expiry"`
	MediaReward      int64    `toml:"media_reward"`
	LeaderboardLimit int      `toml:"leaderboard_limit"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Path: "./data/coins.db",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			DeviceTTL: duration{30 * 24 * time.Hour},
			AdminTTL:  duration{12 * time.Hour},
		},
		Game: GameConfig{
			InviteReward:     5000,
			InviteExpiry:     duration{7 * 24 * time.Hour},
			MediaReward:      1000,
			LeaderboardLimit: 100,
		},
		LogLevel: "info",
	}
}

// Load reads a TOML file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// duration lets TOML carry values like "30s" or "12h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
