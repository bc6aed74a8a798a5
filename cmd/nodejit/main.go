// Command nodejit compiles sea-of-nodes graph descriptions through typed
// lowering and effect/control linearization.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/nodejit/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "nodejit: %v\n", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
