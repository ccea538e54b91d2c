// Package main runs the tempest HTTP server, and the Discord bot when a token is set.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/tempest/internal/app"
	"github.com/raphaelgruber/tempest/internal/config"
)

func main() {
	withDiscord := flag.Bool("discord", true, "run the Discord bot when DISCORD_TOKEN is set")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	logger = logger.With("service", "tempest-server")
	logger.Info("starting tempest-server", "port", cfg.ServerPort, "store", cfg.Store)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server().ListenAndServe(ctx, ":"+cfg.ServerPort)
	})
	if *withDiscord && cfg.DiscordToken != "" && len(cfg.DiscordChannels) > 0 {
		g.Go(func() error {
			return a.Discord().Run(ctx, cfg.DiscordToken)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
