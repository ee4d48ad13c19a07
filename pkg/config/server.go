package config

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// ServerConfig contains HTTP bind configuration.
type ServerConfig struct {
	// Host is the bind address. Overridable via the API_HOST environment
	// variable.
	Host string `yaml:"host"`

	// Port is the bind port. Overridable via the API_PORT environment
	// variable.
	Port int `yaml:"port"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 8010,
	}
}

// Addr returns the host:port string for http.Server.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultLoggingConfig returns the built-in logging defaults.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{Level: "info"}
}

// SlogLevel maps the configured level name to a slog.Level, defaulting to
// Info for unknown names.
func (c *LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SSEConfig controls the progress event stream.
type SSEConfig struct {
	// PollInterval is how often each stream connection re-reads job state.
	// Every poll also emits a heartbeat event, so this doubles as the
	// keep-alive cadence.
	PollInterval Duration `yaml:"poll_interval"`
}

// DefaultSSEConfig returns the built-in stream defaults.
func DefaultSSEConfig() *SSEConfig {
	return &SSEConfig{
		PollInterval: Dur(2 * time.Second),
	}
}
