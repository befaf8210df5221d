// Package config loads service settings from a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Port string `mapstructure:"PORT" validate:"required,numeric"`

	// DatabaseURL wins over the discrete PG_* settings when set.
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PGHost           string `mapstructure:"PG_HOST"`
	PGPort           string `mapstructure:"PG_PORT"`
	PGDatabase       string `mapstructure:"PG_DATABASE"`

	// RedisAddr empty keeps the hub local to this process.
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisDB          int    `mapstructure:"REDIS_DB" validate:"gte=0"`
	HubChannelPrefix string `mapstructure:"HUB_CHANNEL_PREFIX" validate:"required"`

	LockWait     time.Duration `mapstructure:"LOCK_WAIT" validate:"gt=0"`
	ClientBuffer int           `mapstructure:"CLIENT_BUFFER" validate:"gte=1"`

	// DisconnectGrace is how long a user may stay without a realtime connection before
	// leaving their unstarted lobby. Zero disables it.
	DisconnectGrace time.Duration `mapstructure:"DISCONNECT_GRACE" validate:"gte=0"`

	// Both key paths set loads a shared ed25519 pair; otherwise keys are generated per process.
	JWTPrivateKeyPath string `mapstructure:"JWT_PRIVATE_KEY_PATH" validate:"required_with=JWTPublicKeyPath"`
	JWTPublicKeyPath  string `mapstructure:"JWT_PUBLIC_KEY_PATH" validate:"required_with=JWTPrivateKeyPath"`
	TokenExpireTime   string `mapstructure:"TOKEN_EXPIRE_TIME"`

	LogLevel       string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error fatal panic"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
}

var defaults = map[string]any{
	"PORT":                 "8080",
	"DATABASE_URL":         "",
	"POSTGRES_USER":        "postgres",
	"POSTGRES_PASSWORD":    "",
	"PG_HOST":              "localhost",
	"PG_PORT":              "5432",
	"PG_DATABASE":          "arena",
	"REDIS_ADDR":           "",
	"REDIS_DB":             0,
	"HUB_CHANNEL_PREFIX":   "arena:hub",
	"LOCK_WAIT":            "2s",
	"CLIENT_BUFFER":        32,
	"DISCONNECT_GRACE":     "2m",
	"JWT_PRIVATE_KEY_PATH": "",
	"JWT_PUBLIC_KEY_PATH":  "",
	"TOKEN_EXPIRE_TIME":    "72h",
	"LOG_LEVEL":            "info",
	"ALLOWED_ORIGINS":      "*",
}

// Load reads dir/.env if present, overlays the environment and validates the result.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// DatabaseConnString returns DATABASE_URL or one built from the PG_* settings.
func (c *Config) DatabaseConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return database.ConnString(c.PostgresUser, c.PostgresPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}
