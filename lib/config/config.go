// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/hid"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "REPOSTORE_CONFIG"

// CompressionAuto selects a compression per blob by probing its content.
const CompressionAuto = "auto"

// Config is the repotool configuration.
type Config struct {
	// Repositories is the directory holding named repositories. A
	// repository named "main" lives at <Repositories>/main.
	Repositories string `yaml:"repositories"`

	// DefaultStorage is the storage implementation `repotool init` uses
	// when --storage is not given: "sqlite", "badger" or "fs".
	DefaultStorage string `yaml:"default_storage"`

	// DefaultHashMethod is the hash method for new repositories,
	// e.g. "BLAKE3/256".
	DefaultHashMethod string `yaml:"default_hash_method"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Compression is the encoding `repotool put` stores blobs with:
	// auto, full, zlib, zstd or lz4.
	Compression string `yaml:"compression"`

	// BusyRetries bounds how many times an operation that fails with
	// a busy backend is attempted.
	BusyRetries int `yaml:"busy_retries"`

	// SQLite tunes the sqlite storage implementation.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds sqlite storage settings that end up in the
// repository descriptor at init time.
type SQLiteConfig struct {
	// PoolSize is the connection pool size; zero picks a default.
	PoolSize int `yaml:"pool_size"`

	// BusyTimeout is how long a writer waits for another process,
	// as a Go duration string.
	BusyTimeout string `yaml:"busy_timeout"`
}

// Default returns the configuration used when no file is loaded.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Repositories:      filepath.Join(homeDir, ".local", "share", "repostore"),
		DefaultStorage:    "sqlite",
		DefaultHashMethod: hid.DefaultMethod,
		LogLevel:          "warn",
		Compression:       CompressionAuto,
		BusyRetries:       5,
		SQLite: SQLiteConfig{
			BusyTimeout: "5s",
		},
	}
}

// Load reads the file named by REPOSTORE_CONFIG. It fails when the
// variable is unset; there is no search path.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your repostore.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile reads path over the defaults and expands ${VAR} and
// ${VAR:-default} in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Repositories = expandVars(c.Repositories, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. vars take precedence
// over the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Repositories == "" {
		errs = append(errs, fmt.Errorf("repositories is required"))
	}
	if c.DefaultStorage == "" {
		errs = append(errs, fmt.Errorf("default_storage is required"))
	}
	if _, err := hid.Lookup(c.DefaultHashMethod); err != nil {
		errs = append(errs, fmt.Errorf("default_hash_method: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Compression != CompressionAuto {
		encoding, err := blobenc.ParseEncoding(c.Compression)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("compression: %w", err))
		case encoding.IsDelta():
			errs = append(errs, fmt.Errorf("compression: delta needs a reference blob and cannot be a default"))
		}
	}
	if c.BusyRetries < 1 {
		errs = append(errs, fmt.Errorf("busy_retries must be at least 1, got %d", c.BusyRetries))
	}
	if c.SQLite.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("sqlite.pool_size must not be negative"))
	}
	if c.SQLite.BusyTimeout != "" {
		if _, err := time.ParseDuration(c.SQLite.BusyTimeout); err != nil {
			errs = append(errs, fmt.Errorf("sqlite.busy_timeout: %w", err))
		}
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
}

// RepositoryPath resolves a repository argument. Anything that looks
// like a path (contains a separator or starts with a dot) is used as
// given; a bare name is looked up under Repositories.
func (c *Config) RepositoryPath(nameOrPath string) string {
	if strings.ContainsRune(nameOrPath, filepath.Separator) || strings.HasPrefix(nameOrPath, ".") {
		return nameOrPath
	}
	return filepath.Join(c.Repositories, nameOrPath)
}

// EnsurePaths creates the repositories directory.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Repositories, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Repositories, err)
	}
	return nil
}
