package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/doc-intelligence/internal/adapters/mcp"
	"github.com/kirillkom/doc-intelligence/internal/bootstrap"
	"github.com/kirillkom/doc-intelligence/internal/config"
	"github.com/kirillkom/doc-intelligence/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	// stdout carries the JSON-RPC stream.
	logger := logging.New(os.Stderr, "mcp", cfg.LogLevel, "json")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	if err := mcpadapter.NewServer(app.Chat, app.Admin, version).ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err.Error())
	}
}
