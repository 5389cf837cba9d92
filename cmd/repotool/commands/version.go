// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/lib/version"
)

type versionParams struct {
	ConfigParam
	cli.JSONOutput
}

func versionCommand() *cli.Command {
	var params versionParams
	return &cli.Command{
		Name:    "version",
		Summary: "Print build information",
		Usage:   "repotool version [--json]",
		Params:  func() any { return &params },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("version takes no arguments")
			}
			if _, err := params.loadConfig(); err != nil {
				return err
			}
			if done, err := params.EmitJSON(version.Current()); done {
				return err
			}
			fmt.Fprintln(cli.Stdout, version.Full())
			return nil
		},
	}
}
