package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"farewatch/internal/alerting"
	"farewatch/internal/config"
	"farewatch/internal/scheduler"
	"farewatch/internal/scraper"
	"farewatch/internal/service"
	"farewatch/internal/storage"
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

func (a *App) newFetcher() scraper.FareFetcher {
	return scraper.NewClient(scraper.ClientOptions{
		BaseURL:        a.Config.Scraper.BaseURL,
		Timeout:        a.Config.Scraper.RequestTimeout,
		UserAgent:      a.Config.Scraper.UserAgent,
		Passengers:     a.Config.Scraper.Passengers,
		CabinClass:     a.Config.Scraper.CabinClass,
		DaysAhead:      a.Config.Scraper.DaysAhead,
		TripLengthDays: a.Config.Scraper.TripLengthDays,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; routes and history live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	fetcher := a.newFetcher()
	notifier := a.newNotifier()

	svc := service.New(a.Config, sched, fetcher, store, store, store, notifier, a.Logger)

	if count, err := store.CountPrices(ctx); err == nil {
		a.Logger.Info().Int64("stored_observations", count).Msg("starting fare monitoring service")
	} else {
		a.Logger.Info().Msg("starting fare monitoring service")
	}
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("fare monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a route's price history.
type ExportOptions struct {
	RouteID   int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// RescoreOptions configure the rescore job.
type RescoreOptions struct {
	RouteID int64
	DryRun  bool
}
