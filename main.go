package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot"
	"github.com/pixelparty/pixelbot/pixelbot/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Initialize custom logger
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting PixelBot economy engine",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := pixelbot.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	// The leveling subsystem is wired in by the chat frontend. Running
	// standalone, experience deltas are only logged.
	report := func(userID snowflake.ID, delta int64) {
		slog.Debug("Experience reported",
			slog.String("type", "eco"),
			slog.String("user_id", userID.String()),
			slog.Int64("delta", delta))
	}

	b, err := pixelbot.New(*cfg, version, commit, report)
	if err != nil {
		slog.Error("Failed to initialize economy engine",
			slog.String("type", "sys"),
			slog.Any("error", err))
		os.Exit(-1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		slog.Error("Failed to start economy engine",
			slog.String("type", "sys"),
			slog.Any("error", err))
		os.Exit(-1)
	}

	slog.Info("Economy engine is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down...")

	b.Shutdown()
}
