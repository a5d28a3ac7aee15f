// Package cli holds the process entrypoint indirection used by main and its
// in-process tests.
package cli

import (
	"fmt"
	"io"
)

// Handler runs one relsync invocation and returns its exit status.
//
// The main package installs it in init so tests can drive the full command
// tree through Run without building or forking a binary.
var Handler func(args []string, stdout, stderr io.Writer) int

// Run dispatches to Handler; an unset Handler is exit status 1.
func Run(args []string, stdout, stderr io.Writer) int {
	if Handler == nil {
		fmt.Fprintln(stderr, "internal error: cli handler not configured")
		return 1
	}
	return Handler(args, stdout, stderr)
}
