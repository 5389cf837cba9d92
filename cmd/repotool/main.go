// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// repotool creates, inspects and synchronizes content-addressed
// repositories.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/repostore/cmd/repotool/cli"
	"github.com/bureau-foundation/repostore/cmd/repotool/commands"
)

func main() {
	if err := run(); err != nil {
		// ExitError means the command already reported its outcome.
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.ExitCode())
		}
		classified := cli.Classify(err)
		fmt.Fprintf(os.Stderr, "error: %v\n", classified)
		os.Exit(classified.ExitCode())
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
