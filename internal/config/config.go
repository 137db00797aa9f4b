// Package config loads the chanbridge TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath  = "config.toml"
	DefaultHTTPAddr    = ":8080"
	DefaultPGHost      = "127.0.0.1"
	DefaultPGPort      = 5432
	DefaultPGUser      = "postgres"
	DefaultPGDatabase  = "chanbridge"
	DefaultPGSSLMode   = "disable"
	DefaultTokenTTLMin = 15
	DefaultCleanupSpec = "@every 10m"
	DefaultAITimeout   = 120
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Verify   VerifyConfig   `toml:"verify"`
	AI       AIConfig       `toml:"ai"`
	Channels ChannelsConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0,lte=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

type VerifyConfig struct {
	TokenTTLMinutes int    `toml:"token_ttl_minutes" validate:"gte=0"`
	CleanupSchedule string `toml:"cleanup_schedule"`
}

// AIConfig selects how inbound messages reach the AI backend. When BusURL is
// set the structured message-bus pipeline is preferred; AgentURL is the
// direct fallback endpoint.
type AIConfig struct {
	DemoMode       bool   `toml:"demo_mode"`
	BusURL         string `toml:"bus_url" validate:"omitempty,url"`
	AgentURL       string `toml:"agent_url" validate:"omitempty,url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

// ChannelConfig holds one platform's credentials and access policy. An empty
// AllowedUsers list means no whitelist restriction is configured.
type ChannelConfig struct {
	Token        string   `toml:"token"`
	AllowedUsers []string `toml:"allowed_users"`
}

type ChannelsConfig struct {
	Telegram ChannelConfig `toml:"telegram"`
	Discord  ChannelConfig `toml:"discord"`
}

// ByPlatform returns the section for a platform name.
func (c ChannelsConfig) ByPlatform(platform string) (ChannelConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "telegram":
		return c.Telegram, true
	case "discord":
		return c.Discord, true
	default:
		return ChannelConfig{}, false
	}
}

// Load reads the TOML config at path, falling back to defaults when the file
// does not exist. The CONFIG_PATH env var overrides an empty path.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Verify: VerifyConfig{
			TokenTTLMinutes: DefaultTokenTTLMin,
			CleanupSchedule: DefaultCleanupSpec,
		},
		AI: AIConfig{
			TimeoutSeconds: DefaultAITimeout,
		},
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, validate(cfg)
		}
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, validate(cfg)
}

func validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
