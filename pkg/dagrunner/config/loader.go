package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/backend"
)

// envFiles lists the .env candidates loaded before parsing YAML. godotenv
// never overwrites a variable that is already set, so the more specific
// local override (.env.local) is loaded first and wins over the
// project-local .env.
var envFiles = []string{".env.local", ".env"}

// Load reads and parses the YAML config at path, overlaying it onto
// Default(). An empty path returns Default() unmodified except for
// environment overrides. godotenv-loaded files never overwrite variables
// already present in the process environment.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadEnvFiles() {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// applyEnvOverrides lets deployment-specific values (secrets, per-host
// paths) override the checked-in YAML without editing it, matching the
// teacher's environment-variable precedence for credentials.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DAGRUNNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DAGRUNNER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DAGRUNNER_BACKEND_DRIVER"); v != "" {
		cfg.Backend.Driver = v
	}
	if v := os.Getenv("DAGRUNNER_SQLITE_PATH"); v != "" {
		cfg.Backend.SQLite.Path = v
	}
	if v := os.Getenv("DAGRUNNER_POSTGRES_HOST"); v != "" {
		cfg.Backend.Postgres.Host = v
	}
	if v := os.Getenv("DAGRUNNER_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Backend.Postgres.Port = port
		}
	}
	if v := os.Getenv("DAGRUNNER_POSTGRES_DATABASE"); v != "" {
		cfg.Backend.Postgres.Database = v
	}
	if v := os.Getenv("DAGRUNNER_POSTGRES_USER"); v != "" {
		cfg.Backend.Postgres.User = v
	}
	if v := os.Getenv("DAGRUNNER_FILE_DIR"); v != "" {
		cfg.Backend.File.Dir = v
	}
	if v := os.Getenv("DAGRUNNER_SSH_CONFIG"); v != "" {
		cfg.SSH.ConfigPath = v
	}
	if v := os.Getenv("DAGRUNNER_DAGOBAH_ID"); v != "" {
		cfg.Dagobah.ID = v
	}
}

// FindConfigFile looks for a config file in the current directory under a
// short list of conventional names, returning "" if none exist.
func FindConfigFile() string {
	candidates := []string{
		"dagrunner.yaml",
		"dagrunner.yml",
		"config.yaml",
		"configs/dagrunner.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// postgresPassword reads the Postgres password from the environment only
// — it is deliberately never a YAML field (see PostgresConfig's comment).
func postgresPassword() string {
	return os.Getenv("DAGRUNNER_POSTGRES_PASSWORD")
}

// Logger builds the daemon's structured logger: JSON by default, text when
// cfg.Logging.Format == "text", level raised to debug by either verbose or
// cfg.Logging.Level == "debug".
func (c *Config) Logger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose || c.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// OpenBackend constructs the concrete backend.Backend selected by
// cfg.Backend.Driver.
func (c *Config) OpenBackend() (backend.Backend, error) {
	switch c.Backend.Driver {
	case "", "sqlite":
		return backend.OpenSQLite(backend.SQLiteConfig{
			Path:        c.Backend.SQLite.Path,
			JournalMode: c.Backend.SQLite.JournalMode,
			BusyTimeout: c.Backend.SQLite.BusyTimeout,
		})
	case "postgres":
		return backend.OpenPostgres(backend.PostgresConfig{
			Host:            c.Backend.Postgres.Host,
			Port:            c.Backend.Postgres.Port,
			Database:        c.Backend.Postgres.Database,
			User:            c.Backend.Postgres.User,
			Password:        postgresPassword(),
			SSLMode:         c.Backend.Postgres.SSLMode,
			MaxOpenConns:    c.Backend.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Backend.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(c.Backend.Postgres.ConnMaxLifetimeSeconds) * time.Second,
		})
	case "file":
		return backend.NewFileBackend(c.Backend.File.Dir)
	default:
		return nil, fmt.Errorf("config: unknown backend driver %q", c.Backend.Driver)
	}
}
