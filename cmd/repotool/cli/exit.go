// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the process with Code and no error message. Commands
// whose answer is the exit status, like "repotool exists", return it
// after writing their own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns Code. main checks for this method on returned
// errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}
