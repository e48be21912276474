// Package config provides the configuration schema and loader for the
// npcforge server and chat client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects the NPC persistence implementation.
type StoreBackend string

const (
	// StoreMemory keeps NPCs in process memory; they are lost on restart.
	StoreMemory StoreBackend = "memory"

	// StorePostgres persists NPCs in PostgreSQL.
	StorePostgres StoreBackend = "postgres"

	// StoreSQLite persists NPCs in a local SQLite file.
	StoreSQLite StoreBackend = "sqlite"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8000"
	DefaultChatURL          = "ws://localhost:8000/ws"
	DefaultMaxRetries       = 5
	DefaultBackoff          = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 5 * time.Minute
	DefaultReadLimit        = 32 << 10
	DefaultServiceName      = "npcforge"
	DefaultShutdownTimeout  = 15 * time.Second
)

// Config is the root configuration structure.
// It is loaded from a YAML file using [Load] or [LoadFromReader]; every field
// can be overridden by an NPCFORGE_* environment variable.
type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Chat    ChatConfig    `yaml:"chat" envPrefix:"CHAT_"`
	Observe ObserveConfig `yaml:"observe" envPrefix:"OBSERVE_"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// AllowedOrigins lists host patterns accepted for cross-origin chat
	// WebSocket upgrades (e.g. "localhost:3000").
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// StoreConfig selects and configures the NPC store.
type StoreConfig struct {
	// Backend is one of memory, postgres or sqlite. Defaults to memory.
	Backend StoreBackend `yaml:"backend" env:"BACKEND"`

	// PostgresDSN is required when Backend is postgres.
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`

	// SQLitePath is required when Backend is sqlite.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	// SeedFile is a YAML file of NPCs loaded into an empty store at startup.
	SeedFile string `yaml:"seed_file" env:"SEED_FILE"`

	// SeedDefaults loads the built-in sample NPCs into an empty store when no
	// SeedFile is set.
	SeedDefaults bool `yaml:"seed_defaults" env:"SEED_DEFAULTS"`
}

// ChatConfig configures the realtime chat client.
type ChatConfig struct {
	URL              string        `yaml:"url" env:"URL"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Backoff          time.Duration `yaml:"backoff" env:"BACKOFF"`
	MaxBackoff       time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`

	// ReadTimeout is how long the client waits for the next frame before it
	// treats the connection as lost and reconnects.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`

	// ReadLimit caps the size of an inbound frame in bytes. The server's chat
	// endpoint applies the same limit to frames it receives.
	ReadLimit int64 `yaml:"read_limit" env:"READ_LIMIT"`

	// Greeting replaces the local message shown after connecting.
	Greeting string `yaml:"greeting" env:"GREETING"`
}

// ObserveConfig configures tracing and metrics export.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`

	// OTLPEndpoint enables OTLP/HTTP trace export when set
	// (e.g. "http://localhost:4318").
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// SlogLevel maps l to the matching [slog.Level]; unknown values map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
