// Package app wires configuration into a running service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/config"
	"github.com/raphaelgruber/tempest/internal/db"
	"github.com/raphaelgruber/tempest/internal/discord"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/llm"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/server"
	"github.com/raphaelgruber/tempest/internal/service"
	"github.com/raphaelgruber/tempest/internal/session"
	"github.com/raphaelgruber/tempest/internal/speech"
	"github.com/raphaelgruber/tempest/internal/tools"
)

// doorCooldown keeps the door tool from firing repeatedly on one request burst.
const doorCooldown = 10 * time.Second

// App holds every long-lived component built from a Config.
type App struct {
	Config  config.Config
	Metrics *metrics.Collector
	Store   memory.Store
	Agent   *agent.Agent
	Gate    *gate.Gate
	Catalog *models.Catalog
	Service *service.Service

	logger *slog.Logger
}

// New builds the application. The caller must Close it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := metrics.NewCollector()

	store, err := newStore(ctx, cfg, mc, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedding(cfg, mc)
	if err != nil {
		store.Close(ctx)
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	model, err := llm.NewModel(cfg, mc)
	if err != nil {
		store.Close(ctx)
		return nil, fmt.Errorf("create model: %w", err)
	}

	catalog, err := models.LoadCatalog(cfg.PersonalitiesFile)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}

	toolbox := tools.NewRegistry(logger)
	toolbox.Register(tools.NewDoorTool(cfg.ToolsHost))
	toolbox.Register(tools.DefaultTool{})
	toolbox.Limit(tools.OpenDoorName, doorCooldown, 1)

	a := agent.New(store, embedder, model, toolbox, mc, logger)
	g := gate.New(a.Assembler(), model, mc, logger)

	opts := service.Options{
		Sessions:         session.NewRegistry(cfg.VoiceDebounce, logger),
		Catalog:          catalog,
		MergeToolResults: cfg.MergeToolResults,
	}
	if cfg.SynthesizeAudio {
		opts.Speech = speech.NewPipeline(speech.NewFishSpeech(cfg.TTSHost), speech.NewRVC(cfg.RVCHost), mc, logger)
	}

	logger.Info("app initialized",
		"store", cfg.Store,
		"model", model.Model(),
		"embedder", embedder.Model(),
		"personalities", len(catalog.Names()),
		"audio", cfg.SynthesizeAudio)

	return &App{
		Config:  cfg,
		Metrics: mc,
		Store:   store,
		Agent:   a,
		Gate:    g,
		Catalog: catalog,
		Service: service.New(a, g, opts, logger),
		logger:  logger,
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, mc *metrics.Collector, logger *slog.Logger) (memory.Store, error) {
	switch cfg.Store {
	case config.StoreChromem:
		return memory.NewChromemStore(logger), nil
	case config.StoreSurrealDB, "":
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
			Dimension: cfg.EmbedDimension,
		}, logger, mc)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			client.Close(ctx)
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// Server returns the HTTP front end with the configured rate limit.
func (a *App) Server() *server.Server {
	limiter := server.NewRateLimiter(a.Config.RateLimitRPM, a.Config.RateLimitBurst)
	return server.New(a.Service, a.Metrics, limiter, a.logger)
}

// Discord returns the Discord front end speaking as the catalog's default personality.
func (a *App) Discord() *discord.Bot {
	return discord.New(a.Agent, a.Gate, a.Catalog.Resolve(models.Personality{}), a.Config.DiscordChannels, a.logger)
}

// Close stops sessions and releases the store.
func (a *App) Close(ctx context.Context) error {
	a.Service.Close()
	return a.Store.Close(ctx)
}
