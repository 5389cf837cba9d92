// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/repostore/lib/hid"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.DefaultHashMethod != hid.DefaultMethod {
		t.Errorf("default hash method = %q", cfg.DefaultHashMethod)
	}
	if cfg.DefaultStorage != "sqlite" {
		t.Errorf("default storage = %q", cfg.DefaultStorage)
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load succeeded without REPOSTORE_CONFIG")
	}
	if !strings.HasPrefix(err.Error(), "REPOSTORE_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	configPath := writeConfig(t, `
repositories: /srv/repos
default_storage: badger
default_hash_method: SHA2/256
log_level: debug
compression: zstd
busy_retries: 3
sqlite:
  pool_size: 2
`)
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repositories != "/srv/repos" || cfg.DefaultStorage != "badger" ||
		cfg.DefaultHashMethod != hid.MethodSHA256 || cfg.Compression != "zstd" ||
		cfg.BusyRetries != 3 || cfg.SQLite.PoolSize != 2 {
		t.Errorf("loaded config = %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.SQLite.BusyTimeout != "5s" {
		t.Errorf("sqlite.busy_timeout = %q, want default 5s", cfg.SQLite.BusyTimeout)
	}
	level, err := cfg.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, %v", level, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("REPO_TEST_ROOT", "/data")

	cfg, err := LoadFile(writeConfig(t, `repositories: ${REPO_TEST_ROOT}/repos`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Repositories != "/data/repos" {
		t.Errorf("repositories = %q", cfg.Repositories)
	}

	cfg, err = LoadFile(writeConfig(t, `repositories: ${REPO_TEST_UNSET_VARIABLE:-/fallback}/repos`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Repositories != "/fallback/repos" {
		t.Errorf("repositories with default = %q", cfg.Repositories)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.DefaultHashMethod = "MD5/128"
	cfg.LogLevel = "loud"
	cfg.Compression = "delta"
	cfg.BusyRetries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, fragment := range []string{"default_hash_method", "log_level", "compression", "busy_retries"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error does not mention %s: %v", fragment, err)
		}
	}
}

func TestRepositoryPath(t *testing.T) {
	cfg := Default()
	cfg.Repositories = "/srv/repos"

	tests := []struct {
		argument string
		want     string
	}{
		{"main", "/srv/repos/main"},
		{"./local", "./local"},
		{"/abs/repo", "/abs/repo"},
	}
	for _, tt := range tests {
		if got := cfg.RepositoryPath(tt.argument); got != tt.want {
			t.Errorf("RepositoryPath(%q) = %q, want %q", tt.argument, got, tt.want)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Repositories = filepath.Join(t.TempDir(), "nested", "repos")
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(cfg.Repositories); err != nil || !info.IsDir() {
		t.Errorf("repositories directory not created: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repostore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}
