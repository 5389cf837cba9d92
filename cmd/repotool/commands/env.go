// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/config"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/repo"
	"github.com/bureau-foundation/repostore/lib/storage"
	"github.com/bureau-foundation/repostore/lib/storage/drivers"
)

// RepoConnection holds the --config and --repo flags. The --repo
// default comes from REPOSTORE_REPO, else "main".
type RepoConnection struct {
	ConfigParam
	Repo string
}

// AddFlags registers --config and --repo.
func (c *RepoConnection) AddFlags(flagSet *pflag.FlagSet) {
	c.ConfigParam.AddFlags(flagSet)
	repoDefault := "main"
	if value := os.Getenv("REPOSTORE_REPO"); value != "" {
		repoDefault = value
	}
	flagSet.StringVarP(&c.Repo, "repo", "r", repoDefault, "repository name, directory or descriptor file")
}

// ConfigParam is the --config flag. Commands that need no repository
// embed it directly; RepoConnection embeds it for the rest.
type ConfigParam struct {
	ConfigPath string
}

// AddFlags registers --config.
func (c *ConfigParam) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.ConfigPath, "config", "", "path to the repotool config file (default: $"+config.EnvironmentVariable+")")
}

func (c *ConfigParam) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case c.ConfigPath != "":
		cfg, err = config.LoadFile(c.ConfigPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, cli.Validation("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid config: %w", err)
	}
	return cfg, nil
}

// session is an open repository and the configuration it was opened
// with.
type session struct {
	config *config.Config
	logger *slog.Logger
	repo   *repo.Repo
}

func (s *session) Close() error { return s.repo.Close() }

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	return cli.NewCommandLogger(level)
}

// repoOptions are the handle options the configuration implies.
func repoOptions(cfg *config.Config, logger *slog.Logger) repo.Options {
	changeset := blobenc.Zstd
	if cfg.Compression != config.CompressionAuto {
		changeset, _ = blobenc.ParseEncoding(cfg.Compression)
	}
	return repo.Options{
		Logger:            logger,
		BusyRetries:       cfg.BusyRetries,
		ChangesetEncoding: changeset,
	}
}

// open attaches to the repository --repo names.
func (c *RepoConnection) open(ctx context.Context) (*session, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg).With("repo", c.Repo)

	descriptor, err := storage.LoadDescriptor(cfg.RepositoryPath(c.Repo))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &cli.ToolError{
			Category: cli.CategoryNotFound,
			Err:      fmt.Errorf("repository %q not found (create it with 'repotool init %s')", c.Repo, c.Repo),
		}
	}
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	r, err := repo.OpenRepo(ctx, drivers.NewRegistry(), descriptor, repoOptions(cfg, logger))
	if err != nil {
		return nil, err
	}
	return &session{config: cfg, logger: logger, repo: r}, nil
}

// withRepo opens the repository, runs fn, and closes it.
func (c *RepoConnection) withRepo(fn func(ctx context.Context, s *session) error) error {
	ctx := context.Background()
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// DagnumParam adds --dagnum, defaulting to the version control DAG.
type DagnumParam struct {
	Dagnum string `json:"dagnum" flag:"dagnum,d" desc:"dagnum: a well-known name, decimal, or hex" default:"version_control"`
}

func (p *DagnumParam) dagnum() (dagnode.Dagnum, error) {
	dagnum, err := dagnode.ParseDagnum(p.Dagnum)
	if err != nil {
		return 0, cli.Validation("--dagnum: %w", err)
	}
	return dagnum, nil
}

// stdin is replaced by tests.
var stdin io.Reader = os.Stdin

// openInput opens a file argument; "-" or no argument is stdin.
func openInput(args []string) (io.ReadCloser, string, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(stdin), "stdin", nil
	}
	file, err := os.Open(args[0])
	if err != nil {
		return nil, "", cli.Internal("opening %s: %w", args[0], err)
	}
	return file, args[0], nil
}
