package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/alerting"
	"market-pulse/internal/config"
	"market-pulse/internal/pipeline"
	"market-pulse/internal/provider"
	"market-pulse/internal/rules"
	"market-pulse/internal/score"
	"market-pulse/internal/service"
	"market-pulse/internal/status"
	"market-pulse/internal/storage"
	"market-pulse/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newRegistry wires every configured provider adapter. Resolution order
// matters: the first adapter declaring a key serves it.
func (a *App) newRegistry() *provider.Registry {
	p := a.Config.Providers
	limiter := provider.NewLimiter(p.RateLimitRPS)

	return provider.NewRegistry(
		provider.NewFRED(p.FRED, limiter, p.UserAgent, a.Logger),
		provider.NewStooq(p.Stooq, limiter, p.UserAgent, a.Logger),
		provider.NewCoingecko(p.Coingecko, limiter, p.UserAgent, a.Logger),
		provider.NewChainlink(p.Chainlink, a.Logger),
		provider.NewFearGreed(p.FearGreed, limiter, p.UserAgent, a.Logger),
	)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if err := storage.ApplyMigrations(ctx, pool, a.Config.Database.MigrationsPath); err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService assembles the full pipeline around an open store.
func (a *App) newService(store *storage.Store) *service.Service {
	cfg := a.Config

	dispatcher := alerting.NewDispatcher(cfg.Alerting, store, a.Logger)
	defaultActions := cfg.Alerting.DefaultActions
	ruleEngine := rules.NewEngine(store, store, store, store, dispatcher, defaultActions, a.Logger)

	return service.New(service.Deps{
		Config:     cfg,
		Registry:   a.newRegistry(),
		Points:     store,
		Raw:        store,
		Derived:    store,
		Snapshots:  store,
		Locker:     store,
		Aggregator: pipeline.NewAggregator(store, store, cfg.Scheduler.AggregateLookbackDays, a.Logger),
		Deriver:    pipeline.NewDeriver(store, store, a.Logger),
		Statuses:   status.NewEngine(cfg.Indicators, a.Logger),
		Scorer:     score.NewScorer(store, a.Logger),
		Rules:      ruleEngine,
		Logger:     a.Logger,
	})
}

// Run executes the long-running pipeline service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the pipeline")
	}
	defer closeStore()

	svc := a.newService(store)

	a.Logger.Info().Str("build", version.String()).Msg("starting indicator pipeline")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("indicator pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting an indicator's history.
type ExportOptions struct {
	Indicator string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	WeeklyLimit int
	AlertLimit  int
}
