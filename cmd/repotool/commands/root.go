// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the repotool command tree.
package commands

import (
	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
)

// Root returns the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "repotool",
		Description: `repotool: inspect and maintain content-addressed repositories.

A repository holds immutable blobs addressed by their hash and one DAG
of changesets per dagnum. repotool creates repositories, stores and
reads blobs, walks and extends DAGs, and moves history between
repositories as fragballs.

Every command takes --repo (a repository name under the configured
repositories directory, a repository directory, or a descriptor file)
and --config (a YAML file; defaults to $REPOSTORE_CONFIG).`,
		Subcommands: []*cli.Command{
			initCommand(),
			infoCommand(),
			implementationsCommand(),
			putCommand(),
			catCommand(),
			existsCommand(),
			lookupCommand(),
			dagCommand(),
			fragballCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create a repository and store a file",
				Command:     "repotool init main && repotool put README.md",
			},
			{
				Description: "Commit a changeset on top of the current leaf",
				Command:     "repotool dag commit change.bin --parent 3fa9 --user alice",
			},
			{
				Description: "Copy the whole history into another repository",
				Command:     "repotool fragball export all.fragball && repotool fragball import -r mirror all.fragball",
			},
		},
	}
}
