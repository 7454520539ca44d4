package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stockwatcher/internal/alerting"
	"stockwatcher/internal/analytics"
	"stockwatcher/internal/config"
	"stockwatcher/internal/events"
	"stockwatcher/internal/fetcher"
	"stockwatcher/internal/index"
	"stockwatcher/internal/marketclock"
	"stockwatcher/internal/ratelimit"
	"stockwatcher/internal/scheduler"
	"stockwatcher/internal/service"
	"stockwatcher/internal/storage"
	"stockwatcher/internal/synthetic"
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

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	return store, closer, nil
}

func (a *App) newClock() (*marketclock.Clock, error) {
	opts := marketclock.Options{Timezone: a.Config.Market.Timezone}
	if a.Config.Market.UseCalendar {
		opts.MIC = a.Config.Market.CalendarMIC
	}
	return marketclock.New(opts)
}

func (a *App) newGenerator(lookup synthetic.PriceLookup) *synthetic.Generator {
	cfg := a.Config.Synthetic
	return synthetic.New(lookup, synthetic.Options{
		Seed:                cfg.Seed,
		Volatility:          disabledIfZero(cfg.Volatility),
		Trend:               disabledIfZero(cfg.Trend),
		JumpProbability:     disabledIfZero(cfg.JumpProbability),
		BulkJumpProbability: disabledIfZero(cfg.BulkJumpProbability),
	}, a.Logger)
}

// disabledIfZero maps an explicit zero in config to the generator's
// "disabled" sentinel.
func disabledIfZero(v float64) float64 {
	if v == 0 {
		return -1
	}
	return v
}

func (a *App) newFetcher(clock *marketclock.Clock, gen *synthetic.Generator) *fetcher.Fetcher {
	cfg := a.Config.Provider
	provider := fetcher.NewTwelveData(fetcher.TwelveDataOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
	rotator := ratelimit.New(cfg.APIKeys, ratelimit.Options{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Cooldown:          cfg.Cooldown,
	}, a.Logger)
	if rotator.Len() == 0 {
		a.Logger.Warn().Msg("provider.api_keys empty; live fetches will fall back to synthetic data")
	}
	return fetcher.New(provider, rotator, clock, gen, fetcher.Options{
		Interval:      cfg.Interval,
		OutputSize:    cfg.OutputSize,
		SymbolDelay:   cfg.SymbolDelay,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		BackoffFactor: cfg.BackoffFactor,
	}, a.Logger)
}

func (a *App) newEmbedder() (index.Embedder, error) {
	cfg := a.Config.Index
	if cfg.Embedder == "http" {
		return index.NewHTTPEmbedder(index.HTTPEmbedderOptions{
			BaseURL:   cfg.EmbeddingURL,
			Model:     cfg.EmbeddingModel,
			APIKey:    cfg.EmbeddingKey,
			Dimension: cfg.Dimension,
			Timeout:   cfg.RequestTimeout,
		}, a.Logger)
	}
	return index.NewHashEmbedder(cfg.Dimension), nil
}

func (a *App) newIndexer(source index.ObservationSource) (*index.Maintainer, error) {
	embedder, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	return index.NewMaintainer(embedder, source, index.Options{
		Mode: a.Config.Index.Mode,
		Path: a.Config.Index.Path,
	}, a.Logger), nil
}

// newSink always logs events and also publishes to Redis when configured.
func (a *App) newSink(ctx context.Context) (events.Sink, func()) {
	sinks := events.Multi{events.NewLogSink(a.Logger)}
	closer := func() {}

	cfg := a.Config.Events
	if cfg.RedisAddr != "" {
		redisSink, err := events.NewRedisSink(ctx, events.RedisOptions{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			ChannelPrefix: cfg.RedisChannelPrefix,
		}, a.Logger)
		if err != nil {
			a.Logger.Error().Err(err).Msg("redis event sink unavailable; events are logged only")
		} else {
			sinks = append(sinks, redisSink)
			closer = func() { _ = redisSink.Close() }
		}
	}
	return sinks, closer
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// newService wires the streaming loop. gate overrides the market clock when
// non-nil.
func (a *App) newService(ctx context.Context, store storage.Backend, sched *scheduler.Scheduler, sink events.Sink, gate service.MarketGate) (*service.Service, error) {
	clock, err := a.newClock()
	if err != nil {
		return nil, err
	}
	if gate == nil {
		gate = clock
	}
	gen := a.newGenerator(store)

	deps := service.Dependencies{
		Scheduler: sched,
		Store:     store,
		Fetcher:   a.newFetcher(clock, gen),
		Generator: gen,
		Gate:      gate,
		Analytics: analytics.New(store, a.Config.Analytics.Window, a.Logger),
		Sink:      sink,
	}
	if a.Config.Index.Enabled {
		indexer, err := a.newIndexer(store)
		if err != nil {
			return nil, err
		}
		deps.Indexer = indexer
	}
	if a.Config.Alerting.Enabled {
		deps.Alerts = alerting.NewEngine(store, sink, a.newNotifier(), a.Logger)
	}

	return service.New(deps, service.Options{
		Symbols:         a.Config.Market.Symbols,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger), nil
}

// Run executes the long-running streaming service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink := a.newSink(ctx)
	defer closeSink()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc, err := a.newService(ctx, store, sched, sink, nil)
	if err != nil {
		return err
	}

	a.Logger.Info().Msg("starting streaming service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("streaming service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical observations.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbols []string
	Limit   int
}

// BackfillOptions configure the historical backfill job.
type BackfillOptions struct {
	From    time.Time
	To      time.Time
	Symbols []string
	Step    time.Duration
	DryRun  bool
}
