// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of repotool.
//
// A [Command] has a name, an optional pflag set built lazily by its
// Flags function, and either a Run function or nested subcommands.
// [Command.Execute] routes the first positional argument to a
// subcommand, parses flags, and prints structured help for -h, --help
// and help. Unknown subcommands and flags get a "did you mean"
// suggestion when a known name is within edit distance 3.
//
// Parameter structs declare their flags with struct tags and are bound
// by [BindFlags]:
//
//	type catParams struct {
//	    cli.JSONOutput
//	    Raw bool `flag:"raw" desc:"write the stored bytes without decoding"`
//	}
//
// Results go to [Stdout]; --json output goes through
// [JSONOutput.EmitJSON].
package cli
