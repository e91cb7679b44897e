package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tyrowin/tickchat/internal/delivery"
	"github.com/Tyrowin/tickchat/internal/presence"
	"github.com/Tyrowin/tickchat/internal/server"
	"github.com/Tyrowin/tickchat/internal/store"
	"github.com/Tyrowin/tickchat/internal/summary"
	"github.com/joho/godotenv"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tickchat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()
	cfg, err := server.LoadConfig()
	if err != nil {
		return exitConfig, err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StoreDriver, cfg.StorePath())
	if err != nil {
		return exitConfig, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer func() {
		logger.Info("closing store", "driver", cfg.StoreDriver)
		if err := st.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	registry := presence.NewRegistry(logger)
	coord := delivery.NewCoordinator(st, registry,
		delivery.WithLogger(logger),
		delivery.WithHistoryLimit(cfg.HistoryLimit),
	)
	if _, err := coord.ReconcilePresence(ctx); err != nil {
		return exitRuntime, err
	}

	summarizer, err := summary.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return exitConfig, err
	}

	srv := server.NewServer(cfg, coord, summarizer, logger)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return exitRuntime, fmt.Errorf("http server: %w", err)
		}
		return exitOK, nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("http shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Error("session shutdown incomplete", "error", err)
	}
	return exitOK, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
