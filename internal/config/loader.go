package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by [ApplyEnv].
const EnvPrefix = "NPCFORGE_"

// Load builds the effective configuration: the YAML file at path (skipped
// when path is empty), then NPCFORGE_* environment overrides, then defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
	}
	cfg, err := parse(data)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// parse decodes data, overlays the environment, applies defaults and
// validates.
func parse(data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from NPCFORGE_* environment variables,
// e.g. NPCFORGE_STORE_BACKEND or NPCFORGE_CHAT_MAX_RETRIES. Unset variables
// leave the field untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Chat.URL == "" {
		cfg.Chat.URL = DefaultChatURL
	}
	if cfg.Chat.MaxRetries == 0 {
		cfg.Chat.MaxRetries = DefaultMaxRetries
	}
	if cfg.Chat.Backoff == 0 {
		cfg.Chat.Backoff = DefaultBackoff
	}
	if cfg.Chat.MaxBackoff == 0 {
		cfg.Chat.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Chat.HandshakeTimeout == 0 {
		cfg.Chat.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Chat.ReadTimeout == 0 {
		cfg.Chat.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Chat.ReadLimit == 0 {
		cfg.Chat.ReadLimit = DefaultReadLimit
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreMemory:
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
		}
	case StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required when store.backend is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Backend))
	}

	// Chat
	if cfg.Chat.URL != "" {
		u, err := url.Parse(cfg.Chat.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("chat.url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("chat.url %q must use ws, wss, http or https", cfg.Chat.URL))
		}
	}
	if cfg.Chat.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("chat.max_retries %d must not be negative", cfg.Chat.MaxRetries))
	}
	if cfg.Chat.Backoff < 0 || cfg.Chat.MaxBackoff < 0 || cfg.Chat.HandshakeTimeout < 0 || cfg.Chat.ReadTimeout < 0 {
		errs = append(errs, errors.New("chat durations must not be negative"))
	}
	if cfg.Chat.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.read_limit %d must not be negative", cfg.Chat.ReadLimit))
	}
	if cfg.Chat.Backoff > 0 && cfg.Chat.MaxBackoff > 0 && cfg.Chat.MaxBackoff < cfg.Chat.Backoff {
		errs = append(errs, fmt.Errorf("chat.max_backoff %s is shorter than chat.backoff %s", cfg.Chat.MaxBackoff, cfg.Chat.Backoff))
	}

	// Observe
	if cfg.Observe.OTLPEndpoint != "" {
		if u, err := url.Parse(cfg.Observe.OTLPEndpoint); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("observe.otlp_endpoint %q must be an absolute URL", cfg.Observe.OTLPEndpoint))
		}
	}

	return errors.Join(errs...)
}
