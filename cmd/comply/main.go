// comply validates training-completion rosters and reminds learners of their
// outstanding mandatory courses.
//
// Usage:
//
//	comply validate --file roster.csv
//	comply stats --file roster.csv --org Acme
//	comply lookup --file roster.csv jane
//	comply send --file roster.csv --cc-managers
//	comply send --file roster.csv --live
//	comply purge --retention-days 90
//	comply audit export --out audit.csv.br --brotli --upload
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signalContext(context.Background())
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. A send in progress then
// stops starting new messages, reports the rest as cancelled and still writes
// the audit batch before exiting.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
