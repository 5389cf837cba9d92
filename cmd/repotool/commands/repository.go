// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/lib/repo"
	"github.com/bureau-foundation/repostore/lib/storage"
	"github.com/bureau-foundation/repostore/lib/storage/drivers"
	"github.com/bureau-foundation/repostore/lib/storage/sqlitestore"
)

// storeDir is the directory, relative to the descriptor, holding a
// repository's storage.
const storeDir = "store"

// --- init ---

type initParams struct {
	RepoConnection
	cli.JSONOutput
	Storage    string `json:"storage"     flag:"storage"     desc:"storage implementation (default: default_storage from config)"`
	HashMethod string `json:"hash_method" flag:"hash-method" desc:"hash method (default: default_hash_method from config)"`
	RepoID     string `json:"repo_id"     flag:"repo-id"     desc:"repository id to adopt instead of allocating one"`
	AdminID    string `json:"admin_id"    flag:"admin-id"    desc:"admin id to adopt instead of allocating one"`
}

type initResult struct {
	Path       string `json:"path"`
	Storage    string `json:"storage"`
	RepoID     string `json:"repo_id"`
	AdminID    string `json:"admin_id"`
	HashMethod string `json:"hash_method"`
}

func initCommand() *cli.Command {
	var params initParams
	return &cli.Command{
		Name:    "init",
		Summary: "Create a repository",
		Usage:   "repotool init [name-or-dir] [flags]",
		Description: `Create a repository in a new directory.

The directory receives a descriptor.json naming the storage
implementation and a store/ directory holding the data. A bare name is
created under the configured repositories directory.

To create a repository that will receive history from an existing one,
pass that repository's --repo-id and --admin-id; fragments only apply
between repositories sharing them.`,
		Examples: []cli.Example{
			{Description: "Create the default repository", Command: "repotool init"},
			{Description: "Create a badger repository in a directory", Command: "repotool init ./work --storage badger"},
		},
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("init takes at most one repository argument")
			}
			name := params.Repo
			if len(args) == 1 {
				name = args[0]
			}
			cfg, err := params.loadConfig()
			if err != nil {
				return err
			}
			storageName := params.Storage
			if storageName == "" {
				storageName = cfg.DefaultStorage
			}
			hashMethod := params.HashMethod
			if hashMethod == "" {
				hashMethod = cfg.DefaultHashMethod
			}

			directory, err := filepath.Abs(cfg.RepositoryPath(name))
			if err != nil {
				return cli.Internal("resolving %s: %w", name, err)
			}
			descriptorPath := filepath.Join(directory, storage.DescriptorFile)
			if _, err := os.Stat(descriptorPath); err == nil {
				return &cli.ToolError{Category: cli.CategoryConflict, Err: fmt.Errorf("%s already exists", descriptorPath)}
			} else if !errors.Is(err, fs.ErrNotExist) {
				return cli.Internal("checking %s: %w", descriptorPath, err)
			}
			if err := os.MkdirAll(directory, 0o755); err != nil {
				return cli.Internal("creating %s: %w", directory, err)
			}

			stored := storage.NewDescriptor(storageName, storeDir)
			if storageName == sqlitestore.Name {
				if cfg.SQLite.PoolSize > 0 {
					stored[sqlitestore.KeyPoolSize] = strconv.Itoa(cfg.SQLite.PoolSize)
				}
				if cfg.SQLite.BusyTimeout != "" {
					stored[sqlitestore.KeyBusyTimeout] = cfg.SQLite.BusyTimeout
				}
			}
			descriptor := stored.Clone()
			descriptor[storage.KeyPath] = filepath.Join(directory, storeDir)

			logger := newLogger(cfg).With("repo", name)
			ctx := context.Background()
			r, err := repo.CreateRepo(ctx, drivers.NewRegistry(), descriptor, repo.CreateParams{
				RepoID:     params.RepoID,
				AdminID:    params.AdminID,
				HashMethod: hashMethod,
			}, repoOptions(cfg, logger))
			if err != nil {
				return err
			}
			defer r.Close()

			data, err := stored.Marshal()
			if err != nil {
				return cli.Internal("encoding descriptor: %w", err)
			}
			if err := os.WriteFile(descriptorPath, data, 0o644); err != nil {
				return cli.Internal("writing %s: %w", descriptorPath, err)
			}

			result := initResult{
				Path:       directory,
				Storage:    r.StorageName(),
				RepoID:     r.RepoID(),
				AdminID:    r.AdminID(),
				HashMethod: r.HashMethod(),
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "created %s repository %s at %s\n", result.Storage, result.RepoID, result.Path)
			return nil
		},
	}
}

// --- info ---

type infoParams struct {
	RepoConnection
	cli.JSONOutput
}

type dagInfo struct {
	Dagnum   string `json:"dagnum"`
	Dagnodes int64  `json:"dagnodes"`
	Leaves   int    `json:"leaves"`
}

type infoResult struct {
	Storage      string          `json:"storage"`
	RepoID       string          `json:"repo_id"`
	AdminID      string          `json:"admin_id"`
	HashMethod   string          `json:"hash_method"`
	Capabilities map[string]bool `json:"capabilities"`
	Dags         []dagInfo       `json:"dags"`
}

func infoCommand() *cli.Command {
	var params infoParams
	return &cli.Command{
		Name:    "info",
		Summary: "Describe a repository",
		Usage:   "repotool info [flags]",
		Description: `Print the repository's identity, its storage implementation's
capabilities, and the size and leaf count of every DAG.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			return params.withRepo(func(ctx context.Context, s *session) error {
				r := s.repo
				result := infoResult{
					Storage:      r.StorageName(),
					RepoID:       r.RepoID(),
					AdminID:      r.AdminID(),
					HashMethod:   r.HashMethod(),
					Capabilities: make(map[string]bool),
				}
				for _, question := range storage.Type2Questions() {
					answer, err := r.Query(question)
					if err != nil {
						return err
					}
					result.Capabilities[question.String()] = answer.Supported
				}
				dagnums, err := r.ListDagnums(ctx)
				if err != nil {
					return err
				}
				for _, dagnum := range dagnums {
					count, err := r.DagnodeCount(ctx, dagnum)
					if err != nil {
						return err
					}
					leaves, err := r.FetchDagLeaves(ctx, dagnum)
					if err != nil {
						return err
					}
					result.Dags = append(result.Dags, dagInfo{Dagnum: dagnum.String(), Dagnodes: count, Leaves: len(leaves)})
				}

				if done, err := params.EmitJSON(result); done {
					return err
				}
				tw := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "storage:\t%s\n", result.Storage)
				fmt.Fprintf(tw, "repo id:\t%s\n", result.RepoID)
				fmt.Fprintf(tw, "admin id:\t%s\n", result.AdminID)
				fmt.Fprintf(tw, "hash method:\t%s\n", result.HashMethod)
				for _, question := range storage.Type2Questions() {
					fmt.Fprintf(tw, "%s:\t%t\n", question, result.Capabilities[question.String()])
				}
				tw.Flush()
				if len(result.Dags) > 0 {
					fmt.Fprintln(cli.Stdout)
					tw = tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
					fmt.Fprintf(tw, "DAGNUM\tDAGNODES\tLEAVES\n")
					for _, dag := range result.Dags {
						fmt.Fprintf(tw, "%s\t%d\t%d\n", dag.Dagnum, dag.Dagnodes, dag.Leaves)
					}
					tw.Flush()
				}
				return nil
			})
		},
	}
}

// --- implementations ---

type implementationsParams struct {
	ConfigParam
	cli.JSONOutput
}

type implementation struct {
	Name         string          `json:"name"`
	Capabilities map[string]bool `json:"capabilities"`
}

func implementationsCommand() *cli.Command {
	var params implementationsParams
	return &cli.Command{
		Name:    "implementations",
		Summary: "List storage implementations and their capabilities",
		Usage:   "repotool implementations [flags]",
		Params:  func() any { return &params },
		Run: func(args []string) error {
			if _, err := params.loadConfig(); err != nil {
				return err
			}
			registry := drivers.NewRegistry()
			answer, err := registry.Query(storage.QuestionListImplementations)
			if err != nil {
				return err
			}
			var result []implementation
			for _, name := range answer.Names {
				driver, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				entry := implementation{Name: name, Capabilities: make(map[string]bool)}
				for _, question := range storage.Type2Questions() {
					reply, err := driver.Query(question)
					if err != nil {
						return err
					}
					entry.Capabilities[question.String()] = reply.Supported
				}
				result = append(result, entry)
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}
			tw := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME")
			for _, question := range storage.Type2Questions() {
				fmt.Fprintf(tw, "\t%s", question)
			}
			fmt.Fprintln(tw)
			for _, entry := range result {
				fmt.Fprintf(tw, "%s", entry.Name)
				for _, question := range storage.Type2Questions() {
					fmt.Fprintf(tw, "\t%t", entry.Capabilities[question.String()])
				}
				fmt.Fprintln(tw)
			}
			return tw.Flush()
		},
	}
}
