package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/doc-intelligence/internal/adapters/http"
	"github.com/kirillkom/doc-intelligence/internal/bootstrap"
	"github.com/kirillkom/doc-intelligence/internal/config"
	"github.com/kirillkom/doc-intelligence/internal/observability/logging"
	"github.com/kirillkom/doc-intelligence/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("api")

	workersDone := make(chan struct{})
	if cfg.EmbeddedWorkers {
		pool, err := app.NewWorkerPool("api", metrics.NewWorkerMetricsWith(httpMetrics.Registry(), "api"))
		if err != nil {
			logger.Error("worker_pool_init_failed", "error", err.Error())
			os.Exit(1)
		}
		go func() {
			defer close(workersDone)
			if err := pool.Run(ctx); err != nil {
				logger.Error("worker_pool_failed", "error", err.Error())
			}
		}()
	} else {
		close(workersDone)
	}

	router := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Ingestor: app.Ingest,
		Reader:   app.Admin,
		Admin:    app.Admin,
		Chat:     app.Chat,
		Exporter: app.Export,
		Metrics:  httpMetrics,
	}).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.ChatAnswerTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "embedded_workers", cfg.EmbeddedWorkers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err.Error())
	}
	<-workersDone
}
