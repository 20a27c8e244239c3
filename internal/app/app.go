package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"oracle-resolver/internal/alerting"
	"oracle-resolver/internal/cache"
	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/config"
	"oracle-resolver/internal/feeds"
	"oracle-resolver/internal/fetcher"
	"oracle-resolver/internal/gateway"
	"oracle-resolver/internal/ledger"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/pricefeed"
	"oracle-resolver/internal/resolver"
	"oracle-resolver/internal/scheduler"
	"oracle-resolver/internal/service"
	"oracle-resolver/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	clock clock.Clock
	comps *Components
}

// Components are the wired collaborators behind every command.
type Components struct {
	Oracle      *pricefeed.Oracle
	Resolver    *resolver.Resolver
	Coordinator *optimistic.Coordinator
	Gateway     *gateway.Gateway
	Outcomes    storage.OutcomeStore
	Submissions ledger.SubmissionStore
	// Locker is nil without a database.
	Locker     storage.AdvisoryLocker
	Persistent bool

	closers []func()
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), clock: clock.System{}}
}

// Close releases pools and connections opened by Components.
func (a *App) Close() {
	if a.comps == nil {
		return
	}
	for i := len(a.comps.closers) - 1; i >= 0; i-- {
		a.comps.closers[i]()
	}
	a.comps = nil
}

// Components wires the application on first use.
func (a *App) Components(ctx context.Context) (*Components, error) {
	if a.comps != nil {
		return a.comps, nil
	}

	c := &Components{}
	fail := func(err error) (*Components, error) {
		for i := len(c.closers) - 1; i >= 0; i-- {
			c.closers[i]()
		}
		return nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}

	var requests optimistic.RequestStore
	if store != nil {
		c.closers = append(c.closers, closeStore)
		if a.Config.Database.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return fail(err)
			}
		}
		requests, c.Outcomes, c.Submissions, c.Locker = store, store, store, store
		c.Persistent = true
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; state is kept in memory for this process")
		requests = optimistic.NewMemoryStore()
		c.Outcomes = storage.NewMemoryOutcomeLog()
		c.Submissions = ledger.NewMemoryStore()
	}

	rounds, closeCache, err := a.openCache(ctx)
	if err != nil {
		return fail(err)
	}
	if closeCache != nil {
		c.closers = append(c.closers, closeCache)
	}

	registry := feeds.Default(int64(a.Config.PriceFeed.DefaultHeartbeat / time.Second))
	reader := fetcher.NewAggregator(fetcher.AggregatorOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	c.Oracle = pricefeed.New(registry, reader, a.clock, rounds, pricefeed.Options{
		RequestTimeout: a.Config.Ethereum.RequestTimeout,
		CacheTTL:       a.Config.PriceFeed.CacheTTL,
	}, a.Logger)
	c.Resolver = resolver.New(c.Oracle, a.clock, c.Outcomes, a.Logger)

	journal, err := a.newJournal(c.Submissions, a.clock)
	if err != nil {
		return fail(err)
	}
	c.Coordinator = optimistic.New(a.optimisticConfig(), requests, journal, a.clock, a.Logger, a.newObservers()...)
	c.Gateway = gateway.New(c.Resolver, c.Coordinator, a.Logger)

	a.comps = c
	return c, nil
}

func (a *App) optimisticConfig() optimistic.Config {
	o := a.Config.Optimistic
	cfg := optimistic.Config{
		OracleAddress: o.OracleAddress,
		Network:       o.Network,
		Version:       o.Version,
		Currency:      o.Currency,
		Reward:        config.Amount(o.Reward),
		ProposerBond:  config.Amount(o.ProposerBond),
		DisputerBond:  config.Amount(o.DisputerBond),
		Liveness:      o.Liveness,
		DisputeWindow: o.DisputeWindow,
		LedgerTimeout: o.LedgerTimeout,
	}
	def := optimistic.DefaultConfig()
	if cfg.Liveness <= 0 {
		cfg.Liveness = def.Liveness
	}
	if cfg.DisputeWindow <= 0 {
		cfg.DisputeWindow = def.DisputeWindow
	}
	return cfg
}

func (a *App) newJournal(store ledger.SubmissionStore, clk clock.Clock) (*ledger.Journal, error) {
	o := a.Config.Optimistic
	return ledger.NewJournal(ledger.Options{
		OracleAddress:    o.OracleAddress,
		Requester:        o.RequesterAddress,
		CurrencyDecimals: o.CurrencyDecimals,
		Timeout:          o.LedgerTimeout,
	}, store, clk, a.Logger)
}

func (a *App) newNotifiers() map[string]alerting.Notifier {
	notifiers := make(map[string]alerting.Notifier)
	for _, channel := range a.Config.Alerting.Channels {
		switch channel {
		case "telegram":
			if a.Config.Alerting.Telegram.Enabled {
				cfg := a.Config.Alerting.Telegram
				notifiers[channel] = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
			}
		case "log":
			notifiers[channel] = alerting.NewLogNotifier(a.Logger)
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alerting channel ignored")
		}
	}
	return notifiers
}

func (a *App) newObservers() []optimistic.Observer {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	notifiers := a.newNotifiers()
	if len(notifiers) == 0 {
		a.Logger.Warn().Msg("alerting enabled but no channel is configured")
		return nil
	}
	return []optimistic.Observer{alerting.NewDispatcher(a.Config.Alerting.Events, notifiers, a.Logger)}
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

func (a *App) openCache(ctx context.Context) (pricefeed.RoundCache, func(), error) {
	cfg := a.Config.Cache
	if cfg.RedisAddr == "" {
		return pricefeed.NewMemoryCache(a.clock), nil, nil
	}

	rc, err := cache.NewRoundCache(ctx, cache.Config{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		KeyPrefix:  cfg.KeyPrefix,
		TLSEnabled: cfg.TLSEnabled,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := rc.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis cache")
		}
	}
	return rc, closer, nil
}

// Run executes the long-running settlement sweeper.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comps, err := a.Components(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if !comps.Persistent {
		a.Logger.Warn().Msg("sweeper running without a database only sees requests made by this process")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.clock, a.Logger)

	svc := service.New(a.Config, sched, comps.Coordinator, comps.Locker, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting settlement sweeper")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("settlement sweeper stopped")
	return nil
}

// ExportOptions hold parameters for exporting the resolution log.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SweepOptions configure a one-off settlement sweep.
type SweepOptions struct {
	DryRun bool
}

// SimulateOptions drive an in-memory optimistic lifecycle.
type SimulateOptions struct {
	MarketID    string
	Question    string
	Outcome     string
	Dispute     bool
	Arbitration string
}
