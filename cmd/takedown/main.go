package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"takedown/config"
	"takedown/core/appbootstrap"
	"takedown/core/store"
	"takedown/core/utils"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := utils.NewLogger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Errorf("store: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}

	if err := appbootstrap.EnsureAdmin(ctx, cfg, db, logger); err != nil {
		logger.Errorf("bootstrap admin: %v", err)
		os.Exit(1)
	}

	runtime, err := appbootstrap.Compose(cfg, db, logger)
	if err != nil {
		logger.Errorf("compose: %v", err)
		os.Exit(1)
	}
	runtime.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- runtime.Server.Start() }()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Errorf("server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := runtime.Stop(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
