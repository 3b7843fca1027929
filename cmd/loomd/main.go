package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atelierhq/loom"
	"github.com/atelierhq/loom/internal/api"
)

func main() {
	addr := flag.String("addr", ":8088", "admin api listen address")
	dataDir := flag.String("data", "./data", "storage directory for cache and audit log")
	inMemory := flag.Bool("in-memory", false, "keep cache and audit log in memory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loom.DefaultConfig()
	cfg.Cache.Path = *dataDir
	cfg.Cache.InMemory = *inMemory
	cfg.Invalidation.DefaultRules = true

	manager, err := loom.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err.Error())
		os.Exit(1)
	}

	server := api.NewServer(manager, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(*addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server stopped", "error", err.Error())
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Close(ctx); err != nil {
		logger.Error("shutdown incomplete", "error", err.Error())
		os.Exit(1)
	}
}
