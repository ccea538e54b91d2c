package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/tempest/internal/app"
	"github.com/raphaelgruber/tempest/internal/discord"
)

// startupTimeout bounds connecting to the store and model servers.
const startupTimeout = 30 * time.Second

var serveWithDiscord bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Long: `Run the HTTP server with the NDJSON turn endpoints, history endpoints,
the /ws websocket, /health, /stats and /metrics.

Examples:
  tempest serve
  TEMPEST_STORE=chromem tempest serve
  tempest serve --discord`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var discordCmd = &cobra.Command{
	Use:   "discord",
	Short: "Run the Discord bot",
	Long: `Connect to Discord with $DISCORD_TOKEN and answer in the channels listed
in $TEMPEST_DISCORD_CHANNELS.

Examples:
  DISCORD_TOKEN=... TEMPEST_DISCORD_CHANNELS=123,456 tempest discord`,
	Args: cobra.NoArgs,
	RunE: runDiscord,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithDiscord, "discord", false, "also run the Discord bot")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func buildApp() (*app.App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Error("failed to close app", "error", err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server().ListenAndServe(ctx, ":"+cfg.ServerPort)
	})
	if serveWithDiscord {
		g.Go(func() error {
			return runBot(ctx, a.Discord())
		})
	}
	return g.Wait()
}

func runDiscord(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signalContext()
	defer stop()
	return runBot(ctx, a.Discord())
}

func runBot(ctx context.Context, bot *discord.Bot) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}
	return bot.Run(ctx, cfg.DiscordToken)
}
