// Package config provides configuration file loading for the fixdeck host.
// The configuration file lives at ~/.fixdeck/config.toml by default, but can be
// overridden with the --config flag. A .yaml or .yml file is read as YAML.
// CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case keys in
// the file via struct tags.
type Config struct {
	// ProjectRoot is the project the analyzer ran on. Patch sources and
	// relative paths are resolved against it.
	// Default: current working directory
	ProjectRoot string `toml:"project_root" yaml:"project_root"`

	// PatchDir holds the generated .diff files.
	// Default: <project_root>/patches
	PatchDir string `toml:"patch_dir" yaml:"patch_dir"`

	// ManifestPath lists the issue fragment files, one per line.
	// Default: <patch_dir>/manifest.txt
	ManifestPath string `toml:"manifest_path" yaml:"manifest_path"`

	// DecisionLog is the append-only text log of decisions.
	// Default: <patch_dir>/user_decisions.txt
	DecisionLog string `toml:"decision_log" yaml:"decision_log"`

	// SnapshotPath stores the undo snapshot.
	// Default: <project_root>/.fixdeck/undo.snapshot
	SnapshotPath string `toml:"snapshot_path" yaml:"snapshot_path"`

	// HistoryDB is the SQLite database of past decisions and analyzer runs.
	// Default: <project_root>/.fixdeck/history.db
	HistoryDB string `toml:"history_db" yaml:"history_db"`

	// Addr is the host:port for the editor bridge.
	// Default: 127.0.0.1:7171
	Addr string `toml:"addr" yaml:"addr"`

	// RequireAuth requires a bearer token on bridge connections.
	// Default: false
	RequireAuth bool `toml:"require_auth" yaml:"require_auth"`

	// TokenHash is the bcrypt hash of the bridge token ('fixdeck token').
	TokenHash string `toml:"token_hash" yaml:"token_hash"`

	// TLS serves the bridge as wss:// with a self-signed certificate kept
	// in CertDir.
	// Default: false
	TLS bool `toml:"tls" yaml:"tls"`

	// CertDir holds the bridge certificate and key.
	// Default: <project_root>/.fixdeck/certs
	CertDir string `toml:"cert_dir" yaml:"cert_dir"`

	// MdnsEnabled advertises the bridge on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled" yaml:"mdns_enabled"`

	// WatchManifest reloads the issue tree when the manifest or a fragment
	// changes on disk.
	// Default: false
	WatchManifest bool `toml:"watch_manifest" yaml:"watch_manifest"`

	// FuzzFactor is the number of leading and trailing context lines a hunk
	// may ignore when it does not match exactly.
	// Default: 2
	FuzzFactor *int `toml:"fuzz_factor" yaml:"fuzz_factor"`

	// MaxOffset bounds how far from its line hint a hunk is searched.
	// Default: 0 (unbounded)
	MaxOffset int `toml:"max_offset" yaml:"max_offset"`

	// AnalyzerPath is the analyzer executable.
	AnalyzerPath string `toml:"analyzer_path" yaml:"analyzer_path"`

	// AnalyzerParams are extra arguments, split on whitespace.
	AnalyzerParams string `toml:"analyzer_params" yaml:"analyzer_params"`

	// AnalyzerConfig is passed to the analyzer as -config=<path>.
	AnalyzerConfig string `toml:"analyzer_config" yaml:"analyzer_config"`

	// KeepAwake prevents idle sleep while the analyzer runs.
	// Default: false
	KeepAwake bool `toml:"keep_awake" yaml:"keep_awake"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// LogFile receives log output instead of stderr when set.
	LogFile string `toml:"log_file" yaml:"log_file"`
}

// DefaultConfigPath returns the default config file location: ~/.fixdeck/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".fixdeck", "config.toml"), nil
}

// WriteDefault creates a starter config file for the project at root.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, root string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Using raw string to control formatting exactly
	content := fmt.Sprintf(`# fixdeck configuration
# Created by 'fixdeck init'

# Project the analyzer runs on
project_root = %q

# Generated patches and the issue manifest
patch_dir = %q
manifest_path = %q

# Editor bridge
addr = %q
require_auth = false
tls = false

# Analyzer executable; set to enable 'fixdeck analyze'
analyzer_path = ""
analyzer_params = ""
`, root, filepath.Join(root, "patches"), filepath.Join(root, "patches", DefaultManifestName), DefaultAddr)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.fixdeck/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Resolve fills unset fields with their defaults. Relative paths are made
// absolute: the project root against the working directory, everything
// else against the project root.
func (c *Config) Resolve() error {
	if c.ProjectRoot == "" {
		c.ProjectRoot = DefaultProjectRoot
	}
	root, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	c.ProjectRoot = root

	abs := func(p, def string) string {
		if p == "" {
			return def
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}
	c.PatchDir = abs(c.PatchDir, filepath.Join(root, "patches"))
	c.ManifestPath = abs(c.ManifestPath, filepath.Join(c.PatchDir, DefaultManifestName))
	c.DecisionLog = abs(c.DecisionLog, filepath.Join(c.PatchDir, DefaultDecisionLogName))
	c.SnapshotPath = abs(c.SnapshotPath, filepath.Join(root, StateDirName, "undo.snapshot"))
	c.HistoryDB = abs(c.HistoryDB, filepath.Join(root, StateDirName, "history.db"))
	c.CertDir = abs(c.CertDir, filepath.Join(root, StateDirName, "certs"))
	if c.AnalyzerConfig != "" {
		c.AnalyzerConfig = abs(c.AnalyzerConfig, "")
	}

	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.FuzzFactor == nil {
		f := DefaultFuzzFactor
		c.FuzzFactor = &f
	}
	if *c.FuzzFactor < 0 {
		return fmt.Errorf("fuzz_factor must not be negative, got %d", *c.FuzzFactor)
	}
	if c.MaxOffset < 0 {
		return fmt.Errorf("max_offset must not be negative, got %d", c.MaxOffset)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}

// Fuzz returns the resolved fuzz factor.
func (c *Config) Fuzz() int {
	if c.FuzzFactor == nil {
		return DefaultFuzzFactor
	}
	return *c.FuzzFactor
}
