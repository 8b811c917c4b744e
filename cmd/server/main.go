package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/config"
	"github.com/rpattn/apietl/internal/db"
	"github.com/rpattn/apietl/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.UsedFile != "" {
		logger.Info("loaded config", zap.String("file", cfg.UsedFile))
	} else {
		logger.Info("no config.yaml found, using defaults and env vars")
	}

	// Stop on interrupt; running jobs end as canceled.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	serveErr := application.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	application.Close(closeCtx)

	if serveErr != nil {
		logger.Error("server stopped", zap.Error(serveErr))
		os.Exit(1)
	}
}
