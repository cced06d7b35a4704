// Package config holds all runtime configuration for greenstash.
//
// Values come from three layers, later layers winning: compiled defaults,
// an optional TOML settings file, and GREENSTASH_* environment variables.
// The core never writes configuration; the settings mechanism itself is an
// external collaborator and is consumed here as plain values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/greenstash/greenstash/internal/shared/paths"
	"github.com/greenstash/greenstash/internal/shared/types"
)

// envPrefix namespaces all environment variables (GREENSTASH_INSTALL_ROOT, ...).
const envPrefix = "greenstash"

// Config holds all application configuration.
type Config struct {
	Roots    RootsConfig    `toml:"roots"`
	Scan     ScanConfig     `toml:"scan"`
	Ingest   IngestConfig   `toml:"ingest"`
	Registry RegistryConfig `toml:"registry"`
	Logging  LogConfig      `toml:"logging"`
}

// RootsConfig locates the managed directory tree.
type RootsConfig struct {
	// InstallRoot is the directory that holds one subdirectory per
	// managed application. Empty means unconfigured.
	InstallRoot string `envconfig:"INSTALL_ROOT" toml:"install_root"`

	// ArchiveDir is the archive root. A relative value is resolved
	// against InstallRoot.
	ArchiveDir string `envconfig:"ARCHIVE_DIR" toml:"archive_dir"`

	// AltArchiveDirName names a legacy archive directory that batch
	// scans must also treat as reserved. Optional.
	AltArchiveDirName string `envconfig:"ALT_ARCHIVE_DIR_NAME" toml:"alt_archive_dir_name"`
}

// ScanConfig governs executable discovery.
type ScanConfig struct {
	// ExecutableExtensions is the case-insensitive allow-list, without
	// leading dots.
	ExecutableExtensions []string `envconfig:"EXECUTABLE_EXTENSIONS" toml:"executable_extensions"`

	// MaxDepth bounds the recursive scan below the install directory.
	MaxDepth int `envconfig:"MAX_DEPTH" toml:"max_depth"`
}

// IngestConfig governs the add/batch flows.
type IngestConfig struct {
	// FlattenSingleDir lifts a lone wrapping directory out of a freshly
	// extracted install.
	FlattenSingleDir bool `envconfig:"FLATTEN_SINGLE_DIR" toml:"flatten_single_dir"`

	// BackupOnBatch creates timestamped zip backups for directories the
	// batch scan cannot associate with an existing archive.
	BackupOnBatch bool `envconfig:"BACKUP_ON_BATCH" toml:"backup_on_batch"`
}

// RegistryConfig governs catalog persistence.
type RegistryConfig struct {
	// LockWait bounds how long a writer waits for the advisory lock
	// before failing with ErrLockUnavailable.
	LockWait time.Duration `envconfig:"LOCK_WAIT" toml:"lock_wait"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" toml:"development"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Roots: RootsConfig{
			ArchiveDir: paths.DefaultArchiveDirName,
		},
		Scan: ScanConfig{
			ExecutableExtensions: []string{"exe", "bat", "cmd", "com"},
			MaxDepth:             3,
		},
		Ingest: IngestConfig{
			FlattenSingleDir: true,
			BackupOnBatch:    true,
		},
		Registry: RegistryConfig{
			LockWait: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load builds the configuration from defaults, the optional settings file
// and the environment, in that order. settingsFile may be empty.
func Load(settingsFile string) (*Config, error) {
	cfg := Default()

	if settingsFile != "" {
		data, err := os.ReadFile(settingsFile)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse settings file %s: %w", settingsFile, err)
			}
		case os.IsNotExist(err):
			// A missing settings file is fine, the environment still applies.
		default:
			return nil, fmt.Errorf("read settings file %s: %w", settingsFile, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the defaults on failure.
func LoadOrDefault(settingsFile string) *Config {
	cfg, err := Load(settingsFile)
	if err != nil {
		return Default()
	}
	return cfg
}

// ArchiveRoot resolves the absolute archive root. Empty when the install
// root is unconfigured and the archive dir is relative.
func (c *Config) ArchiveRoot() string {
	if filepath.IsAbs(c.Roots.ArchiveDir) {
		return filepath.Clean(c.Roots.ArchiveDir)
	}
	if c.Roots.InstallRoot == "" {
		return ""
	}
	dir := c.Roots.ArchiveDir
	if dir == "" {
		dir = paths.DefaultArchiveDirName
	}
	return filepath.Join(c.Roots.InstallRoot, dir)
}

// InstallRoot returns the configured install root, empty when unset.
func (c *Config) InstallRoot() string {
	return c.Roots.InstallRoot
}

// Validate checks that both roots are usable. It runs before any
// filesystem mutation.
func (c *Config) Validate() error {
	if c.Roots.InstallRoot == "" || c.ArchiveRoot() == "" {
		return types.ErrConfigurationMissing
	}
	return nil
}
