package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "dagrunner.yaml")
	yamlBody := "backend:\n  driver: file\n  file:\n    dir: ./custom-data\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Driver != "file" {
		t.Fatalf("Backend.Driver = %q, want file", cfg.Backend.Driver)
	}
	if cfg.Backend.File.Dir != "./custom-data" {
		t.Fatalf("Backend.File.Dir = %q, want ./custom-data", cfg.Backend.File.Dir)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Fields absent from the YAML keep Default()'s values.
	if cfg.Backend.Postgres.Port != 5432 {
		t.Fatalf("Backend.Postgres.Port = %d, want default 5432", cfg.Backend.Postgres.Port)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Backend.Driver != "sqlite" {
		t.Fatalf("Backend.Driver = %q, want sqlite", cfg.Backend.Driver)
	}
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	t.Setenv("DAGRUNNER_BACKEND_DRIVER", "postgres")
	t.Setenv("DAGRUNNER_POSTGRES_HOST", "db.internal")
	path := filepath.Join(t.TempDir(), "dagrunner.yaml")
	yamlBody := "backend:\n  driver: file\n  postgres:\n    host: yaml-host\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Driver != "postgres" {
		t.Fatalf("Backend.Driver = %q, want postgres", cfg.Backend.Driver)
	}
	if cfg.Backend.Postgres.Host != "db.internal" {
		t.Fatalf("Backend.Postgres.Host = %q, want db.internal", cfg.Backend.Postgres.Host)
	}
}

func TestOpenBackendFileDriver(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Backend.Driver = "file"
	cfg.Backend.File.Dir = filepath.Join(t.TempDir(), "store")

	b, err := cfg.OpenBackend()
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer b.Close()

	if _, err := b.NewDagobahID(); err != nil {
		t.Fatalf("NewDagobahID on opened backend: %v", err)
	}
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Backend.Driver = "does-not-exist"
	if _, err := cfg.OpenBackend(); err == nil {
		t.Fatal("OpenBackend(unknown driver) succeeded, want error")
	}
}
