package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/doc-intelligence/internal/adapters/cli"
	"github.com/kirillkom/doc-intelligence/internal/bootstrap"
	"github.com/kirillkom/doc-intelligence/internal/config"
	"github.com/kirillkom/doc-intelligence/internal/observability/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, "docctl", cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	root := cli.NewRootCommand(cli.Services{
		Reader:      app.Admin,
		Admin:       app.Admin,
		DeadLetters: app.Queue,
		Exporter:    app.Export,
	})
	root.SetOut(os.Stdout)
	return root.ExecuteContext(ctx)
}
