// Command gridstore manages chunked spreadsheets stored in a local
// database: import, inspect, edit with undo/redo, compact, and export.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gridstore:", err)
		os.Exit(exitCode(err))
	}
}

// userErrors are failures caused by the arguments rather than the system.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrInvalidOperation,
	types.ErrInvalidID,
	types.ErrInvalidColumn,
	types.ErrRowOutOfRange,
	types.ErrInvalidPermutation,
	types.ErrUnsupportedFile,
	types.ErrBackendUnknown,
	types.ErrConfigInvalid,
	types.ErrLogLevelUnknown,
	errUsage,
}

var errUsage = errors.New("usage")

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}
