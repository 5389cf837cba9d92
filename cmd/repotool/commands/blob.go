// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/config"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repo"
)

// --- put ---

type putParams struct {
	RepoConnection
	cli.JSONOutput
	Encoding string `json:"encoding" flag:"encoding,e" desc:"auto, full, zlib, zstd or lz4 (default: compression from config)"`
}

type putResult struct {
	Source   string  `json:"source"`
	HID      hid.HID `json:"hid"`
	Encoding string  `json:"encoding"`
	Size     int64   `json:"size"`
}

func putCommand() *cli.Command {
	var params putParams
	return &cli.Command{
		Name:    "put",
		Summary: "Store files as blobs",
		Usage:   "repotool put [file...] [flags]",
		Description: `Store each file as a blob and print its HID. With no file, or "-",
stdin is stored. All files are committed in one transaction; content
the repository already holds is not stored again.

With --encoding auto, each blob is compressed with zstd or lz4 when a
probe shows it shrinks enough, and stored in full otherwise.`,
		Examples: []cli.Example{
			{Description: "Store two files", Command: "repotool put a.txt b.txt"},
			{Description: "Store stdin uncompressed", Command: "echo hello | repotool put --encoding full"},
		},
		Params: func() any { return &params },
		Run: func(args []string) error {
			return params.withRepo(func(ctx context.Context, s *session) error {
				choice := params.Encoding
				if choice == "" {
					choice = s.config.Compression
				}
				var encoding blobenc.Encoding
				if choice != config.CompressionAuto {
					parsed, err := blobenc.ParseEncoding(choice)
					if err != nil {
						return cli.Validation("--encoding: %w", err)
					}
					if parsed.IsDelta() {
						return cli.Validation("--encoding delta needs a reference blob")
					}
					encoding = parsed
				}

				sources := args
				if len(sources) == 0 {
					sources = []string{"-"}
				}
				tx, err := s.repo.BeginTx(0)
				if err != nil {
					return err
				}
				var results []putResult
				for _, source := range sources {
					result, err := putOne(ctx, s.repo, tx, source, choice == config.CompressionAuto, encoding)
					if err != nil {
						tx.Abort()
						return err
					}
					results = append(results, result)
				}
				committed, err := tx.Commit(ctx)
				if err != nil {
					return err
				}
				s.logger.Info("blobs stored", "files", len(results), "new", committed.BlobsStored)

				if done, err := params.EmitJSON(results); done {
					return err
				}
				for _, result := range results {
					fmt.Fprintf(cli.Stdout, "%s  %s\n", result.HID, result.Source)
				}
				return nil
			})
		},
	}
}

// putOne stores one file. A file stored in full is streamed; anything
// to be compressed is read whole.
func putOne(ctx context.Context, r *repo.Repo, tx *repo.Tx, source string, auto bool, encoding blobenc.Encoding) (putResult, error) {
	input, name, err := openInput([]string{source})
	if err != nil {
		return putResult{}, err
	}
	defer input.Close()

	if file, ok := input.(*os.File); ok && !auto && encoding == blobenc.Full {
		info, err := file.Stat()
		if err != nil {
			return putResult{}, cli.Internal("stat %s: %w", name, err)
		}
		writer, err := r.StoreBegin(ctx, tx, repo.StoreParams{
			Encoding:   blobenc.Full,
			LenFull:    info.Size(),
			LenEncoded: info.Size(),
		})
		if err != nil {
			return putResult{}, err
		}
		if _, err := io.Copy(writer, file); err != nil {
			writer.Abort()
			return putResult{}, cli.Internal("reading %s: %w", name, err)
		}
		id, err := r.StoreEnd(ctx, tx, writer)
		if err != nil {
			return putResult{}, err
		}
		return putResult{Source: name, HID: id, Encoding: blobenc.Full.String(), Size: info.Size()}, nil
	}

	data, err := io.ReadAll(input)
	if err != nil {
		return putResult{}, cli.Internal("reading %s: %w", name, err)
	}
	if auto {
		encoding = blobenc.Select(data)
	}
	id, err := r.StoreBytes(ctx, tx, data, encoding)
	if err != nil {
		return putResult{}, err
	}
	info, err := r.StatBlob(ctx, id)
	if err != nil {
		return putResult{}, err
	}
	return putResult{Source: name, HID: id, Encoding: info.Encoding.String(), Size: int64(len(data))}, nil
}

// --- cat ---

type catParams struct {
	RepoConnection
	Raw    bool   `json:"raw"    flag:"raw"      desc:"write the stored (encoded) bytes without decoding"`
	Output string `json:"output" flag:"output,o" desc:"output file (default: stdout)"`
}

func catCommand() *cli.Command {
	var params catParams
	return &cli.Command{
		Name:    "cat",
		Summary: "Write a blob's content",
		Usage:   "repotool cat <hid-prefix> [flags]",
		Description: `Write the content of a blob, named by a unique HID prefix, to stdout
or --output. Content is decoded and verified against its HID; a blob
that fails verification exits with an integrity error after its bytes
have been written.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: repotool cat <hid-prefix>")
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				id, err := s.repo.HIDLookupBlob(ctx, args[0])
				if err != nil {
					return err
				}
				reader, err := s.repo.FetchBegin(ctx, id, !params.Raw)
				if err != nil {
					return err
				}
				output := cli.Stdout
				if params.Output != "" {
					file, err := os.Create(params.Output)
					if err != nil {
						reader.Abort()
						return cli.Internal("creating %s: %w", params.Output, err)
					}
					defer file.Close()
					output = file
				}
				if _, err := io.Copy(output, reader); err != nil {
					reader.Abort()
					return err
				}
				return reader.End()
			})
		},
	}
}

// --- exists ---

type existsParams struct {
	RepoConnection
	cli.JSONOutput
}

type existsResult struct {
	Present []hid.HID `json:"present"`
	Missing []hid.HID `json:"missing"`
}

func existsCommand() *cli.Command {
	var params existsParams
	return &cli.Command{
		Name:    "exists",
		Summary: "Check which blobs the repository holds",
		Usage:   "repotool exists <hid>... [flags]",
		Description: `Check the given full HIDs. Present ones are printed to stdout and
missing ones to stderr. Exits 0 when all are present and 1 otherwise.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) == 0 {
				return cli.Validation("usage: repotool exists <hid>...")
			}
			return params.withRepo(func(ctx context.Context, s *session) error {
				ids := make([]hid.HID, len(args))
				for i, arg := range args {
					id, err := s.repo.Method().Parse(arg)
					if err != nil {
						return cli.Validation("%s: %w", arg, err)
					}
					ids[i] = id
				}
				missing, err := s.repo.QueryBlobExistence(ctx, ids)
				if err != nil {
					return err
				}
				missingSet := hid.NewSet(missing...)
				var result existsResult
				for _, id := range ids {
					if missingSet.Has(id) {
						result.Missing = append(result.Missing, id)
					} else {
						result.Present = append(result.Present, id)
					}
				}

				done, err := params.EmitJSON(result)
				if err != nil {
					return err
				}
				if !done {
					for _, id := range result.Present {
						fmt.Fprintln(cli.Stdout, id)
					}
					for _, id := range result.Missing {
						fmt.Fprintf(cli.Stderr, "not found: %s\n", id)
					}
				}
				if len(result.Missing) > 0 {
					return &cli.ExitError{Code: 1}
				}
				return nil
			})
		},
	}
}

// --- lookup ---

type lookupParams struct {
	RepoConnection
	cli.JSONOutput
	Dagnum string `json:"dagnum" flag:"dagnum,d" desc:"resolve a dagnode of this dagnum instead of a blob"`
	All    bool   `json:"all"    flag:"all"      desc:"list every match instead of requiring a unique one"`
}

func lookupCommand() *cli.Command {
	var params lookupParams
	return &cli.Command{
		Name:    "lookup",
		Summary: "Resolve an HID prefix",
		Usage:   "repotool lookup <prefix> [flags]",
		Description: `Resolve a hex prefix to the one blob, or with --dagnum the one dagnode,
it names. For dagnodes, a decimal number is first tried as a revision
number. An ambiguous prefix fails and lists some candidates.`,
		Examples: []cli.Example{
			{Description: "Resolve a blob prefix", Command: "repotool lookup 3fa9"},
			{Description: "Resolve revision 12 of the version control DAG", Command: "repotool lookup 12 --dagnum version_control"},
		},
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: repotool lookup <prefix>")
			}
			prefix := args[0]
			return params.withRepo(func(ctx context.Context, s *session) error {
				var (
					matches []hid.HID
					err     error
				)
				dagnum, useDag, err := params.dagnum()
				if err != nil {
					return err
				}
				switch {
				case useDag && params.All:
					matches, err = s.repo.FindDagnodesByPrefix(ctx, dagnum, prefix)
				case useDag:
					var id hid.HID
					id, err = s.repo.HIDLookupDagnode(ctx, dagnum, prefix)
					matches = []hid.HID{id}
				case params.All:
					matches, err = s.repo.FindBlobsByPrefix(ctx, prefix)
				default:
					var id hid.HID
					id, err = s.repo.HIDLookupBlob(ctx, prefix)
					matches = []hid.HID{id}
				}
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(matches); done {
					return err
				}
				for _, id := range matches {
					fmt.Fprintln(cli.Stdout, id)
				}
				return nil
			})
		},
	}
}

func (p *lookupParams) dagnum() (dagnode.Dagnum, bool, error) {
	if p.Dagnum == "" {
		return 0, false, nil
	}
	dagnum, err := dagnode.ParseDagnum(p.Dagnum)
	if err != nil {
		return 0, false, cli.Validation("--dagnum: %w", err)
	}
	return dagnum, true, nil
}
