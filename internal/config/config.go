// Package config provides centralized configuration management for the
// sync server. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast
// on misconfiguration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sync     SyncConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response
	// (default: 0, long-lived websocket connections must not be cut off)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for plain HTTP requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings. An empty URL runs
// the server against the in-memory store.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// SyncConfig holds tuning for the sync engine and websocket sessions.
type SyncConfig struct {
	// StoreRetryAttempts is total tries per store operation on transient
	// failures (default: 3)
	StoreRetryAttempts int `env:"SYNC_STORE_RETRY_ATTEMPTS" default:"3"`

	// StoreRetryBackoff is the base delay between store retries, doubled
	// per retry (default: 100ms)
	StoreRetryBackoff time.Duration `env:"SYNC_STORE_RETRY_BACKOFF" default:"100ms"`

	// SessionSendBuffer is the per-session outbound event buffer; a
	// session that falls this far behind is disconnected and must
	// reconcile on reconnect (default: 64)
	SessionSendBuffer int `env:"SYNC_SESSION_SEND_BUFFER" default:"64"`

	// WriteTimeout is the per-frame websocket write deadline (default: 10s)
	WriteTimeout time.Duration `env:"SYNC_WS_WRITE_TIMEOUT" default:"10s"`

	// PingPeriod is how often websocket pings are sent; must be shorter
	// than PongTimeout (default: 30s)
	PingPeriod time.Duration `env:"SYNC_WS_PING_PERIOD" default:"30s"`

	// PongTimeout is how long to wait for pong before dropping the
	// session (default: 60s)
	PongTimeout time.Duration `env:"SYNC_WS_PONG_TIMEOUT" default:"60s"`

	// MaxFrameSize is the websocket read limit in bytes (default: 1MiB)
	MaxFrameSize int64 `env:"SYNC_WS_MAX_FRAME_SIZE" default:"1048576"`

	// MutateTimeout bounds one mutation round trip submitted over a
	// websocket, read-then-conditional-write included (default: 15s)
	MutateTimeout time.Duration `env:"SYNC_WS_MUTATE_TIMEOUT" default:"15s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Database.URL != "" {
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
	}

	if c.Sync.StoreRetryAttempts <= 0 {
		errs = append(errs, "SYNC_STORE_RETRY_ATTEMPTS must be positive")
	}
	if c.Sync.StoreRetryBackoff < 0 {
		errs = append(errs, "SYNC_STORE_RETRY_BACKOFF must be non-negative")
	}
	if c.Sync.SessionSendBuffer <= 0 {
		errs = append(errs, "SYNC_SESSION_SEND_BUFFER must be positive")
	}
	if c.Sync.PingPeriod <= 0 || c.Sync.PongTimeout <= 0 {
		errs = append(errs, "SYNC_WS_PING_PERIOD and SYNC_WS_PONG_TIMEOUT must be positive")
	} else if c.Sync.PingPeriod >= c.Sync.PongTimeout {
		errs = append(errs, fmt.Sprintf("SYNC_WS_PING_PERIOD (%s) must be shorter than SYNC_WS_PONG_TIMEOUT (%s)",
			c.Sync.PingPeriod, c.Sync.PongTimeout))
	}
	if c.Sync.MaxFrameSize <= 0 {
		errs = append(errs, "SYNC_WS_MAX_FRAME_SIZE must be positive")
	}
	if c.Sync.MutateTimeout <= 0 {
		errs = append(errs, "SYNC_WS_MUTATE_TIMEOUT must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	if c.Database.URL != "" {
		b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
			c.Database.MaxConns, c.Database.MinConns))
	} else {
		b.WriteString("Database: {in-memory}, ")
	}
	b.WriteString(fmt.Sprintf("Sync: {StoreRetryAttempts: %d, SessionSendBuffer: %d}, ",
		c.Sync.StoreRetryAttempts, c.Sync.SessionSendBuffer))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
