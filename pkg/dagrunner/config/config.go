// Package config defines the daemon's YAML configuration shape and its
// defaults, mirroring the teacher's copilot.Config / DefaultConfig split
// (nested structs tagged with yaml:"...", a typed Default() constructor
// overlaid by the file on disk).
package config

// Config holds every setting the dagrunnerd daemon needs to construct an
// engine.Engine and start serving.
type Config struct {
	// Logging configures the daemon's log/slog output.
	Logging LoggingConfig `yaml:"logging"`

	// Backend selects and configures the durable store.
	Backend BackendConfig `yaml:"backend"`

	// SSH configures host resolution for remote tasks.
	SSH SSHConfig `yaml:"ssh"`

	// Dagobah configures the engine instance itself.
	Dagobah DagobahConfig `yaml:"dagobah"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// BackendConfig selects one of the three persistence implementations.
type BackendConfig struct {
	// Driver is one of "sqlite" (default), "postgres", or "file".
	Driver string `yaml:"driver"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	File     FileConfig     `yaml:"file"`
}

// SQLiteConfig mirrors backend.SQLiteConfig's YAML-facing fields.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

// PostgresConfig mirrors backend.PostgresConfig's YAML-facing fields. The
// password is left to an environment override (DAGRUNNER_POSTGRES_PASSWORD)
// rather than a YAML field, matching the teacher's practice of never
// writing plaintext secrets into the config file (see keyring.go).
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	// ConnMaxLifetimeSeconds avoids relying on yaml.v3 parsing duration
	// strings like "30m" (it only unmarshals numeric literals into
	// time.Duration, since Duration is just an int64 underneath).
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds"`
}

// FileConfig configures the flat-file backend.
type FileConfig struct {
	Dir string `yaml:"dir"`
}

// SSHConfig configures remote-host resolution.
type SSHConfig struct {
	// ConfigPath overrides the default ~/.ssh/config location. Empty uses
	// the default.
	ConfigPath string `yaml:"config_path"`
	// Disabled skips loading any SSH config at all (local-only scheduler).
	Disabled bool `yaml:"disabled"`
}

// DagobahConfig configures the engine instance.
type DagobahConfig struct {
	// ID pins the engine to a specific persisted dagobah id (for
	// FromBackend-style recovery on restart). Empty allocates a fresh one.
	ID string `yaml:"id"`
}

// Default returns a Config with the daemon's out-of-the-box settings: a
// local SQLite store under ./data, JSON logging at info level, and the
// user's own ~/.ssh/config for host resolution.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:        "./data/dagrunner.db",
				JournalMode: "WAL",
				BusyTimeout: 5000,
			},
			Postgres: PostgresConfig{
				Port:                   5432,
				SSLMode:                "disable",
				MaxOpenConns:           25,
				MaxIdleConns:           10,
				ConnMaxLifetimeSeconds: 1800,
			},
			File: FileConfig{
				Dir: "./data/dagrunner",
			},
		},
	}
}
