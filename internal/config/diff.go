package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level differs. The new level
	// can be applied without a restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed keys that only take effect after the
	// server restarts.
	RestartRequired []string
}

// IsEmpty reports whether nothing changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.shutdown_timeout", old.Server.ShutdownTimeout != new.Server.ShutdownTimeout)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("store.backend", old.Store.Backend != new.Store.Backend)
	restart("store.postgres_dsn", old.Store.PostgresDSN != new.Store.PostgresDSN)
	restart("store.sqlite_path", old.Store.SQLitePath != new.Store.SQLitePath)
	restart("store.seed_file", old.Store.SeedFile != new.Store.SeedFile)
	restart("store.seed_defaults", old.Store.SeedDefaults != new.Store.SeedDefaults)
	restart("chat", old.Chat != new.Chat)
	restart("observe", old.Observe != new.Observe)

	return d
}
