package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries everything the server needs at boot. Values come from the
// environment; a local .env file is loaded first when present.
type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// StorageRoot is the directory attachment files live under.
	StorageRoot string `envconfig:"STORAGE_ROOT" default:"./storage"`

	// TeardownQueueSize bounds how many group deletions may be pending.
	TeardownQueueSize int `envconfig:"TEARDOWN_QUEUE_SIZE" default:"16"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Debug gates diagnostic detail in error responses.
	Debug bool `envconfig:"DEBUG" default:"false"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
}
