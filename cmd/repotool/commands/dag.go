// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

func dagCommand() *cli.Command {
	return &cli.Command{
		Name:    "dag",
		Summary: "Inspect and extend DAGs",
		Description: `Inspect and extend the DAG of one dagnum.

Dagnodes are named by a unique HID prefix or, where noted, by their
revision number in this repository. --dagnum selects the DAG and
defaults to version_control.`,
		Subcommands: []*cli.Command{
			dagLeavesCommand(),
			dagShowCommand(),
			dagChildrenCommand(),
			dagLogCommand(),
			dagCommitCommand(),
			dagLCACommand(),
			dagCheckCommand(),
		},
	}
}

type dagParams struct {
	RepoConnection
	cli.JSONOutput
	DagnumParam
}

// resolve turns dagnode arguments into full ids.
func resolve(ctx context.Context, s *session, dagnum dagnode.Dagnum, args []string) ([]hid.HID, error) {
	ids := make([]hid.HID, len(args))
	for i, arg := range args {
		id, err := s.repo.HIDLookupDagnode(ctx, dagnum, arg)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// emitIDs writes ids as JSON or one per line.
func emitIDs(output *cli.JSONOutput, ids []hid.HID) error {
	if done, err := output.EmitJSON(ids); done {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(cli.Stdout, id)
	}
	return nil
}

// --- leaves ---

func dagLeavesCommand() *cli.Command {
	var params dagParams
	return &cli.Command{
		Name:    "leaves",
		Summary: "List the DAG's leaves",
		Usage:   "repotool dag leaves [flags]",
		Params:  func() any { return &params },
		Run: func(args []string) error {
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				leaves, err := s.repo.FetchDagLeaves(ctx, dagnum)
				if err != nil {
					return err
				}
				return emitIDs(&params.JSONOutput, leaves)
			})
		},
	}
}

// --- show ---

type showResult struct {
	*dagnode.Dagnode
	Children []hid.HID       `json:"children"`
	Audits   []dagnode.Audit `json:"audits"`
}

func dagShowCommand() *cli.Command {
	var params dagParams
	return &cli.Command{
		Name:    "show",
		Summary: "Show a dagnode",
		Usage:   "repotool dag show <prefix-or-revision> [flags]",
		Description: `Show a dagnode's generation, revision, parents and children, and
the audits recorded for its changeset.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: repotool dag show <prefix-or-revision>")
			}
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				ids, err := resolve(ctx, s, dagnum, args)
				if err != nil {
					return err
				}
				node, err := s.repo.FetchDagnode(ctx, dagnum, ids[0])
				if err != nil {
					return err
				}
				children, err := s.repo.FetchDagnodeChildren(ctx, dagnum, node.ID)
				if err != nil {
					return err
				}
				audits, err := s.repo.ListAudits(ctx, dagnum, node.ID)
				if err != nil {
					return err
				}
				result := showResult{Dagnode: node, Children: children, Audits: audits}

				if done, err := params.EmitJSON(result); done {
					return err
				}
				tw := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "id:\t%s\n", node.ID)
				fmt.Fprintf(tw, "dagnum:\t%s\n", node.Dagnum)
				fmt.Fprintf(tw, "generation:\t%d\n", node.Generation)
				fmt.Fprintf(tw, "revision:\t%d\n", node.Revision)
				for _, parent := range node.Parents {
					fmt.Fprintf(tw, "parent:\t%s\n", parent)
				}
				for _, child := range children {
					fmt.Fprintf(tw, "child:\t%s\n", child)
				}
				for _, audit := range audits {
					fmt.Fprintf(tw, "audit:\t%s at %s\n", audit.UserID, audit.Time().Format("2006-01-02T15:04:05.000Z"))
				}
				return tw.Flush()
			})
		},
	}
}

// --- children ---

func dagChildrenCommand() *cli.Command {
	var params dagParams
	return &cli.Command{
		Name:    "children",
		Summary: "List a dagnode's children",
		Usage:   "repotool dag children <prefix-or-revision> [flags]",
		Params:  func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: repotool dag children <prefix-or-revision>")
			}
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				ids, err := resolve(ctx, s, dagnum, args)
				if err != nil {
					return err
				}
				children, err := s.repo.FetchDagnodeChildren(ctx, dagnum, ids[0])
				if err != nil {
					return err
				}
				return emitIDs(&params.JSONOutput, children)
			})
		},
	}
}

// --- log ---

type logParams struct {
	dagParams
	Start int64 `json:"start" flag:"start" desc:"first revision to list" default:"1"`
	Count int   `json:"count" flag:"count,n" desc:"number of dagnodes to list" default:"20"`
}

func dagLogCommand() *cli.Command {
	var params logParams
	return &cli.Command{
		Name:    "log",
		Summary: "List dagnodes in the order this repository received them",
		Usage:   "repotool dag log [flags]",
		Description: `List dagnodes by revision number. Revisions count insertions into this
repository and differ between repositories holding the same DAG.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				ids, err := s.repo.FetchChronoDagnodeList(ctx, dagnum, params.Start, params.Count)
				if err != nil {
					return err
				}
				nodes, err := s.repo.FetchDagnodes(ctx, dagnum, ids)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(nodes); done {
					return err
				}
				tw := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "REV\tGEN\tID\tPARENTS\n")
				for _, node := range nodes {
					parents := make([]string, len(node.Parents))
					for i, parent := range node.Parents {
						parents[i] = parent.Short()
					}
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", node.Revision, node.Generation, node.ID, strings.Join(parents, " "))
				}
				return tw.Flush()
			})
		},
	}
}

// --- commit ---

type commitParams struct {
	dagParams
	Parents []string `json:"parents" flag:"parent,p" desc:"parent dagnode prefix or revision (repeatable)"`
	User    string   `json:"user"    flag:"user,u"   desc:"user id to record in an audit"`
}

func dagCommitCommand() *cli.Command {
	var params commitParams
	return &cli.Command{
		Name:    "commit",
		Summary: "Store a changeset and add its dagnode",
		Usage:   "repotool dag commit [file] [flags]",
		Description: `Store the file (or stdin) as a changeset blob and add a dagnode for it
with the given parents. The dagnode's id is the changeset's HID, so
committing the same content twice fails.`,
		Examples: []cli.Example{
			{Description: "Commit a root", Command: "repotool dag commit first.bin --user alice"},
			{Description: "Merge two leaves", Command: "repotool dag commit merge.bin -p 3fa9 -p 77c0"},
		},
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("usage: repotool dag commit [file]")
			}
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			input, name, err := openInput(args)
			if err != nil {
				return err
			}
			defer input.Close()
			payload, err := io.ReadAll(input)
			if err != nil {
				return cli.Internal("reading %s: %w", name, err)
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				parents, err := resolve(ctx, s, dagnum, params.Parents)
				if err != nil {
					return err
				}
				tx, err := s.repo.BeginTx(0)
				if err != nil {
					return err
				}
				node, err := s.repo.StoreChangeset(ctx, tx, dagnum, payload, params.User, parents...)
				if err != nil {
					tx.Abort()
					return err
				}
				if _, err := tx.Commit(ctx); err != nil {
					return err
				}
				stored, err := s.repo.FetchDagnode(ctx, dagnum, node.ID)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(stored); done {
					return err
				}
				fmt.Fprintln(cli.Stdout, stored.ID)
				return nil
			})
		},
	}
}

// --- lca ---

func dagLCACommand() *cli.Command {
	var params dagParams
	return &cli.Command{
		Name:    "lca",
		Summary: "Find the lowest common ancestors of dagnodes",
		Usage:   "repotool dag lca <node> <node>... [flags]",
		Description: `Print the minimal common ancestors of two or more dagnodes. Criss-cross
merges have more than one; all are printed. Fails when one input is an
ancestor of another or when the inputs share no ancestor.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) < 2 {
				return cli.Validation("usage: repotool dag lca <node> <node>...")
			}
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				ids, err := resolve(ctx, s, dagnum, args)
				if err != nil {
					return err
				}
				result, err := s.repo.GetDagLCA(ctx, dagnum, ids)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(result); done {
					return err
				}
				for _, id := range result.Ancestors {
					fmt.Fprintln(cli.Stdout, id)
				}
				return nil
			})
		},
	}
}

// --- check ---

type checkParams struct {
	dagParams
	Blobs bool `json:"blobs" flag:"blobs" desc:"also read and verify every changeset blob"`
}

type checkResult struct {
	Dagnum       string    `json:"dagnum"`
	Dagnodes     int       `json:"dagnodes"`
	Leaves       []hid.HID `json:"leaves"`
	LeavesFixed  bool      `json:"leaves_fixed"`
	MissingBlobs []hid.HID `json:"missing_blobs,omitempty"`
	BadBlobs     []hid.HID `json:"bad_blobs,omitempty"`
}

func dagCheckCommand() *cli.Command {
	var params checkParams
	return &cli.Command{
		Name:    "check",
		Summary: "Verify a DAG's leaf set and, optionally, its blobs",
		Usage:   "repotool dag check [flags]",
		Description: `Recompute the leaf set from the stored dagnodes and repair it when it
disagrees. With --blobs, read every changeset blob and verify it
against its HID; nodes whose blob is absent are listed, which is
normal for history received without content.

Exits with an integrity error when a blob fails verification.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			dagnum, err := params.dagnum()
			if err != nil {
				return err
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				leaves, changed, err := s.repo.RecomputeLeaves(ctx, dagnum)
				if err != nil {
					return err
				}
				ids, err := s.repo.FetchDagnodeIDs(ctx, dagnum, 0, math.MaxInt64)
				if err != nil {
					return err
				}
				result := checkResult{Dagnum: dagnum.String(), Dagnodes: len(ids), Leaves: leaves, LeavesFixed: changed}
				if params.Blobs {
					for _, id := range ids {
						_, err := s.repo.FetchBytes(ctx, id)
						switch {
						case err == nil:
						case errors.Is(err, repoerr.ErrBlobNotFound):
							result.MissingBlobs = append(result.MissingBlobs, id)
						case repoerr.Is(repoerr.Integrity, err):
							s.logger.Warn("changeset blob failed verification", "hid", id, "error", err)
							result.BadBlobs = append(result.BadBlobs, id)
						default:
							return err
						}
					}
				}

				done, err := params.EmitJSON(result)
				if err != nil {
					return err
				}
				if !done {
					fmt.Fprintf(cli.Stdout, "%s: %d dagnodes, %d leaves\n", result.Dagnum, result.Dagnodes, len(result.Leaves))
					if result.LeavesFixed {
						fmt.Fprintln(cli.Stdout, "leaf set was inconsistent and has been repaired")
					}
					if params.Blobs {
						fmt.Fprintf(cli.Stdout, "%d blobs missing, %d failed verification\n", len(result.MissingBlobs), len(result.BadBlobs))
					}
				}
				if len(result.BadBlobs) > 0 {
					return &cli.ToolError{
						Category: cli.CategoryIntegrity,
						Err:      fmt.Errorf("%d changeset blobs failed verification: %w", len(result.BadBlobs), repoerr.ErrBlobNotVerified),
					}
				}
				return nil
			})
		},
	}
}
