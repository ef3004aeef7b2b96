package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Cancellation stops launching new node-group rollouts; updates
	// already issued are waited on under their own deadline.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
