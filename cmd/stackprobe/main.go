// Command stackprobe fingerprints the technologies behind a website and
// prints the report as JSON or as terminal tables.
package main

import (
	"fmt"
	"os"

	"github.com/olegrjumin/stackprobe/internal/apperr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// formatError renders err for stderr, with the stable code when there is one
func formatError(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return fmt.Sprintf("Error [%s]: %s", appErr.Code, appErr.Message)
	}
	return "Error: " + err.Error()
}
