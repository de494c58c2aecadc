package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/app"
	"github.com/probeai/orchestrator/internal/config"
)

func main() {
	mgr, logger, level, err := app.Bootstrap(config.Path())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, mgr, logger, level)
	if err != nil {
		logger.Fatal("Failed to initialize research service", zap.Error(err))
	}

	if err := a.Serve(ctx); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
	}
	logger.Info("Shutting down research service")
	if err := a.Close(context.Background()); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
}
