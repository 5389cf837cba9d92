// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/lib/fragball"
	"github.com/bureau-foundation/repostore/lib/repo"
)

func fragballCommand() *cli.Command {
	return &cli.Command{
		Name:    "fragball",
		Summary: "Move history between repositories",
		Description: `Export DAG history with its changeset blobs and audits as a fragball
file, and apply fragballs from repositories sharing the same repo id.`,
		Subcommands: []*cli.Command{
			fragballExportCommand(),
			fragballImportCommand(),
			fragballScanCommand(),
		},
	}
}

// --- export ---

type exportParams struct {
	dagParams
	Since []string `json:"since" flag:"since,s" desc:"dagnode the receiver already has (repeatable); default exports everything"`
}

func fragballExportCommand() *cli.Command {
	var params exportParams
	return &cli.Command{
		Name:    "export",
		Summary: "Write DAG history to a fragball",
		Usage:   "repotool fragball export [file] [flags]",
		Description: `Write the dagnodes the receiver lacks, their changeset blobs in stored
form, and their audits to the file, or to stdout when the file is
omitted or "-". Pass the receiver's leaves as --since for an
incremental export.

The summary goes to stdout only when the fragball is written to a
file.`,
		Examples: []cli.Example{
			{Description: "Export everything", Command: "repotool fragball export all.fragball"},
			{Description: "Export what a mirror lacks", Command: "repotool fragball export new.fragball --since $(repotool -r mirror dag leaves)"},
		},
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("usage: repotool fragball export [file]")
			}
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				since, err := resolve(ctx, s, dagnum, params.Since)
				if err != nil {
					return err
				}

				toStdout := len(args) == 0 || args[0] == "-"
				var output io.Writer = cli.Stdout
				var file *os.File
				if !toStdout {
					file, err = os.Create(args[0])
					if err != nil {
						return cli.Internal("creating %s: %w", args[0], err)
					}
					output = file
				}
				buffered := bufio.NewWriter(output)

				result, err := s.repo.ExportFragball(ctx, buffered, dagnum, since)
				if err == nil {
					err = buffered.Flush()
				}
				if file != nil {
					if closeErr := file.Close(); err == nil {
						err = closeErr
					}
					if err != nil {
						os.Remove(args[0])
					}
				}
				if err != nil {
					return err
				}

				if toStdout {
					return nil
				}
				if done, err := params.EmitJSON(result); done {
					return err
				}
				fmt.Fprintf(cli.Stdout, "exported %d dagnodes, %d blobs (%d missing), %d audits\n",
					result.Dagnodes, result.Blobs, result.MissingBlobs, result.Audits)
				return nil
			})
		},
	}
}

// --- import ---

type importParams struct {
	RepoConnection
	cli.JSONOutput
	Clone bool `json:"clone" flag:"clone" desc:"populate empty DAGs in one commit each"`
}

func fragballImportCommand() *cli.Command {
	var params importParams
	return &cli.Command{
		Name:    "import",
		Summary: "Apply a fragball",
		Usage:   "repotool fragball import [file] [flags]",
		Description: `Apply a fragball from the file or stdin. Every fragment is checked
before anything is written, and a fragment whose parents are neither
in the fragball nor in the repository fails the import. Blobs are
verified against their HIDs.

--clone commits each DAG that is empty in this repository in a single
transaction, which is faster for an initial copy. Without it, dagnodes
are committed one at a time and an interrupted import can be rerun.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("usage: repotool fragball import [file]")
			}
			input, _, err := openInput(args)
			if err != nil {
				return err
			}
			defer input.Close()

			var flags repo.TxFlags
			if params.Clone {
				flags |= repo.TxCloning
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				result, err := s.repo.ApplyFragball(ctx, bufio.NewReader(input), flags)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(result); done {
					return err
				}
				fmt.Fprintf(cli.Stdout, "inserted %d dagnodes (%d already present), stored %d of %d blobs, %d audits\n",
					result.Inserted, result.AlreadyPresent, result.BlobsStored, result.BlobsReceived, result.Audits)
				return nil
			})
		},
	}
}

// --- scan ---

type scanParams struct {
	ConfigParam
	cli.JSONOutput
}

func fragballScanCommand() *cli.Command {
	var params scanParams
	return &cli.Command{
		Name:    "scan",
		Summary: "Summarize the fragments in a fragball",
		Usage:   "repotool fragball scan [file] [flags]",
		Description: `List each fragment's dagnum, origin repository, member count, heads
and open edge. Blob bytes are not read. No repository is needed.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("usage: repotool fragball scan [file]")
			}
			if _, err := params.loadConfig(); err != nil {
				return err
			}
			input, _, err := openInput(args)
			if err != nil {
				return err
			}
			defer input.Close()

			summaries, err := fragball.ScanFrags(input)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(summaries); done {
				return err
			}
			tw := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "DAGNUM\tREPO\tMEMBERS\tHEADS\tOPEN EDGE\n")
			for _, summary := range summaries {
				heads := make([]string, len(summary.Heads))
				for i, head := range summary.Heads {
					heads[i] = head.Short()
				}
				edge := make([]string, len(summary.OpenEdge))
				for i, id := range summary.OpenEdge {
					edge[i] = id.Short()
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", summary.Dagnum, summary.RepoID, summary.Members,
					strings.Join(heads, " "), strings.Join(edge, " "))
			}
			return tw.Flush()
		},
	}
}
