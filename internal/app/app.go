package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pricewatch/internal/aggregator"
	"pricewatch/internal/alert"
	"pricewatch/internal/config"
	"pricewatch/internal/metrics"
	"pricewatch/internal/notify"
	"pricewatch/internal/provider"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
	"pricewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// store overrides the configured database when set.
	store storage.Repository
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// WithStore makes every command use repo instead of opening the database.
func (a *App) WithStore(repo storage.Repository) *App {
	a.store = repo
	return a
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	if a.store != nil {
		return a.store, func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

// requireStore is openStore for commands that cannot run without persistence.
func (a *App) requireStore(ctx context.Context) (storage.Repository, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) newHistory() (aggregator.History, func(), error) {
	switch a.Config.History.Backend {
	case config.HistoryRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		closer := func() {
			if err := rdb.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close redis client")
			}
		}
		return aggregator.NewRedisHistory(rdb, a.Config.Redis.KeyPrefix, a.Config.History.Length), closer, nil
	default:
		return aggregator.NewMemoryHistory(a.Config.History.Length), func() {}, nil
	}
}

func (a *App) newAggregator(history aggregator.History, providers []provider.Provider) *aggregator.Aggregator {
	return aggregator.New(aggregator.Options{Providers: providers, History: history}, a.Logger)
}

func (a *App) newProviders() ([]provider.Provider, error) {
	providers, err := provider.NewRegistry().Build(a.Config.Providers, provider.Deps{Logger: a.Logger})
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		a.Logger.Warn().Msg("no providers enabled; every check will report no price")
	}
	return providers, nil
}

func (a *App) newNotifier() notify.Notifier {
	channels := make(map[string]notify.Notifier)
	if cfg := a.Config.Notify.Telegram; cfg.Enabled {
		channels[notify.ChannelTelegram] = notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	if cfg := a.Config.Notify.Email; cfg.Enabled {
		channels[notify.ChannelEmail] = notify.NewEmailNotifier(notify.EmailOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		}, a.Logger)
	}
	multi := notify.NewMulti(channels, a.Logger)
	if multi.Empty() {
		a.Logger.Warn().Msg("no notification channel enabled; triggers are only logged")
		return notify.NewLog(a.Logger)
	}
	return multi
}

// routable reports whether any channel the alert asks for is enabled.
func (a *App) routable(p alert.Preferences) bool {
	for _, name := range notify.Requested(p) {
		switch name {
		case notify.ChannelTelegram:
			if a.Config.Notify.Telegram.Enabled {
				return true
			}
		case notify.ChannelEmail:
			if a.Config.Notify.Email.Enabled {
				return true
			}
		}
	}
	return false
}

// pipeline bundles what a tick needs.
type pipeline struct {
	tracker *tracker.Tracker
	close   func()
}

func (a *App) newPipeline(store storage.Repository) (*pipeline, error) {
	history, closeHistory, err := a.newHistory()
	if err != nil {
		return nil, err
	}
	providers, err := a.newProviders()
	if err != nil {
		closeHistory()
		return nil, err
	}
	agg := a.newAggregator(history, providers)

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	tr := tracker.New(tracker.Options{
		Store:       store,
		Prices:      agg,
		Notifier:    a.newNotifier(),
		Locker:      locker,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
		Concurrency: a.Config.Scheduler.Concurrency,
	}, a.Logger)

	return &pipeline{tracker: tr, close: closeHistory}, nil
}

// Run executes the long-running tracking service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// alerts are created by other processes, so the service needs the shared store
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := a.newPipeline(store)
	if err != nil {
		return err
	}
	defer p.close()

	sched, err := scheduler.New(scheduler.Options{
		Spec:         a.Config.Scheduler.Schedule,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	a.Logger.Info().Str("schedule", a.Config.Scheduler.Schedule).Msg("starting tracking service")
	err = sched.Run(ctx, p.tracker.Tick)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("tracking service stopped")
	return nil
}

func (a *App) serveMetrics() func() {
	if a.Config.Metrics.Addr == "" {
		return func() {}
	}

	metrics.BuildInfo.WithLabelValues(version.Version, version.Commit).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: a.Config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server failed")
		}
	}()
	a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Check runs one tick immediately, or a single alert when alertID is set.
func (a *App) Check(ctx context.Context, alertID string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := a.newPipeline(store)
	if err != nil {
		return err
	}
	defer p.close()

	if alertID != "" {
		outcome, latest, err := p.tracker.CheckAlert(ctx, alertID)
		if err != nil {
			return err
		}
		a.printf("%s\t%s\tstatus=%s\tprice=%s\n", latest.ID, outcome, latest.Status, formatPrice(latest.CurrentPrice))
		return nil
	}

	report, err := p.tracker.RunOnce(ctx)
	if err != nil {
		return err
	}
	if report.Locked {
		a.printf("tick skipped: advisory lock held by another process\n")
		return nil
	}
	a.printf("checked=%d triggered=%d no_price=%d skipped=%d failed=%d notified=%d retried=%d duration=%s\n",
		report.Checked, report.Triggered, report.NoPrice, report.Skipped, report.Failed,
		report.Notified, report.Retried, report.Duration.Round(time.Millisecond))
	return nil
}
