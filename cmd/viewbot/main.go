package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"viewbot/internal/cli"
	logx "viewbot/pkg/logx"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cli.NewRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, cli.ErrDeliveryFailed):
		cancel()
		os.Exit(2)
	default:
		// the configured logger may not exist yet
		logx.NewConsole(os.Stderr, os.Getenv("VIEWBOT_LOG_LEVEL")).Error("viewbot failed", logx.Err(err))
		cancel()
		os.Exit(1)
	}
}
