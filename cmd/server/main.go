package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glasster/glasster/internal/config"
	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	dotenv := flag.String("env-file", ".env", "optional .env file")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown deadline")
	flag.Parse()

	cfg, err := config.Load(*configPath, *dotenv)
	if err != nil {
		log.New(log.LevelInfo).Fatal("Failed to load configuration", log.Error(err))
	}

	srv, cleanup, err := injector.InitializeServer(cfg)
	if err != nil {
		log.Provide().Fatal("Failed to initialize server", log.Error(err))
	}
	defer cleanup()

	logger := log.Provide()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Error starting server", log.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping server", log.Error(err))
	}
}
