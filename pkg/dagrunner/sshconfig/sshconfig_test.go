package sshconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
Host build-box
    HostName 10.0.0.5
    User deploy
    IdentityFile ~/.ssh/id_deploy

Host *.internal
    User ops

Host *
    StrictHostKeyChecking no
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestHostsExcludesWildcards(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	hosts := cfg.Hosts()
	for _, h := range hosts {
		if h == "*" || h == "*.internal" {
			t.Fatalf("Hosts() included wildcard entry %q", h)
		}
	}
	found := false
	for _, h := range hosts {
		if h == "build-box" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Hosts() = %v, want to include build-box", hosts)
	}
}

func TestGetResolvesKnownHost(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	spec, ok := cfg.Get("build-box")
	if !ok {
		t.Fatal("Get(build-box) ok = false")
	}
	if spec.Hostname != "10.0.0.5" {
		t.Fatalf("Hostname = %q, want 10.0.0.5", spec.Hostname)
	}
	if spec.User != "deploy" {
		t.Fatalf("User = %q, want deploy", spec.User)
	}
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load(missing): %v", err)
	}
	if len(cfg.Hosts()) != 0 {
		t.Fatalf("Hosts() on empty config = %v, want empty", cfg.Hosts())
	}
}
