// Command bunpatch extracts and rewrites the entrypoint source embedded in
// compiled Bun executables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/meigma/bunpatch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := RootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bunpatch:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to distinct exit statuses so scripts can tell a
// missing entrypoint or a busy file from other failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, bunpatch.ErrNotFound):
		return 2
	case errors.Is(err, bunpatch.ErrFileBusy):
		return 3
	default:
		return 1
	}
}
