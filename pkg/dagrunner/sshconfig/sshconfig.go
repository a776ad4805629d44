// Package sshconfig resolves HostSpec records from the host's standard
// OpenSSH client configuration file. Wildcard Host patterns are excluded
// from the enumerable host set but can still be resolved by direct lookup
// (spec.md §4.5, §6).
package sshconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/task"
)

// DefaultPath returns the current user's ~/.ssh/config path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sshconfig: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// Config is a parsed SSH client configuration.
type Config struct {
	cfg *ssh_config.Config
}

// Load parses the SSH config file at path. A missing file yields an empty
// Config rather than an error, since having no SSH config is valid for a
// local-only scheduler.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{cfg: &ssh_config.Config{}}, nil
		}
		return nil, fmt.Errorf("sshconfig: open %q: %w", path, err)
	}
	defer f.Close()

	parsed, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("sshconfig: parse %q: %w", path, err)
	}
	return &Config{cfg: parsed}, nil
}

// Hosts returns the enumerable set of host aliases declared in the config,
// excluding any Host pattern containing a wildcard ("*").
func (c *Config) Hosts() []string {
	var names []string
	for _, host := range c.cfg.Hosts {
		for _, pattern := range host.Patterns {
			p := pattern.String()
			if strings.Contains(p, "*") {
				continue
			}
			names = append(names, p)
		}
	}
	return names
}

// Get resolves the HostSpec for alias, whether or not it appears in the
// enumerable Hosts() list (a wildcard-matched alias can still be resolved
// here). ok is always true: an alias with no HostName entry resolves to
// itself as the hostname, with User and IdentityFile left empty when unset.
func (c *Config) Get(alias string) (task.HostSpec, bool) {
	hostname, _ := c.cfg.Get(alias, "HostName")
	if hostname == "" {
		hostname = alias
	}
	user, _ := c.cfg.Get(alias, "User")
	identity, _ := c.cfg.Get(alias, "IdentityFile")

	return task.HostSpec{
		Hostname:     hostname,
		User:         user,
		IdentityFile: expandHome(identity),
	}, true
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
