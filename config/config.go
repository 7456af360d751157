package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port           int    `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	DefaultRoom    string `envconfig:"DEFAULT_ROOM" default:"default" validate:"required"`
	RoomBuffer     int    `envconfig:"ROOM_BUFFER" default:"256" validate:"min=1"`
	SendBuffer     int    `envconfig:"SEND_BUFFER" default:"256" validate:"min=1"`
	MaxMessageSize int64  `envconfig:"MAX_MESSAGE_SIZE" default:"4096" validate:"min=64"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Level maps LogLevel to a slog level.
func (c Config) Level() slog.Level { return ParseLevel(c.LogLevel) }

// ParseLevel maps debug, info, warn and error to slog levels, defaulting
// to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
