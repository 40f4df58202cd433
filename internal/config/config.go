package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Widget   WidgetConfig   `toml:"widget"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Listen   string `toml:"listen"`
	APIToken string `toml:"api_token"`
}

type TelegramConfig struct {
	Enabled    bool   `toml:"enabled"`
	Token      string `toml:"token"`
	APIBase    string `toml:"api_base"`
	WebhookURL string `toml:"webhook_url"`
}

type WidgetConfig struct {
	Enabled bool `toml:"enabled"`
}

type DatabaseConfig struct {
	// Driver selects the store: "sqlite" or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type CacheConfig struct {
	ActionCache bool `toml:"action_cache"`
	LLMCache    bool `toml:"llm_cache"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Listen: ":8080"},
		Widget:   WidgetConfig{Enabled: true},
		Database: DatabaseConfig{Driver: "sqlite", Path: "switchboard.db"},
		Cache:    CacheConfig{ActionCache: true, LLMCache: true},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "switchboard.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("SWITCHBOARD_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("SWITCHBOARD_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("SWITCHBOARD_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("SWITCHBOARD_TELEGRAM_WEBHOOK_URL"); v != "" {
		cfg.Telegram.WebhookURL = v
	}
	if v := os.Getenv("SWITCHBOARD_DATABASE_PATH"); v != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = v
	}
	if v := os.Getenv("SWITCHBOARD_POSTGRES_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("SWITCHBOARD_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
