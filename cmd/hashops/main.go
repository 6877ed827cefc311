// Command hashops hashes payloads through a cached, monitored worker
// pipeline, runs its self-checks, or serves it over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "hashops:", err)
		stop()
		os.Exit(1)
	}
}
