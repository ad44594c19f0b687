// Package tracker runs the recurring price check over every active alert.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/aggregator"
	"pricewatch/internal/alert"
	"pricewatch/internal/metrics"
	"pricewatch/internal/notify"
	"pricewatch/internal/provider"
	"pricewatch/internal/storage"
)

// DefaultConcurrency bounds how many alerts are checked at once.
const DefaultConcurrency = 4

// ErrTickInProgress is returned when a tick is requested while another runs.
var ErrTickInProgress = errors.New("tracker: tick already in progress")

// PriceSource resolves current prices. *aggregator.Aggregator satisfies it.
type PriceSource interface {
	SearchFlights(ctx context.Context, q provider.FlightQuery) (aggregator.Summary, error)
	SearchHotels(ctx context.Context, q provider.HotelQuery) (aggregator.Summary, error)
}

// Outcome classifies one alert check.
type Outcome string

const (
	OutcomeChecked   Outcome = "checked"
	OutcomeTriggered Outcome = "triggered"
	OutcomeNoPrice   Outcome = "no_price"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Options wire the tracker's collaborators.
type Options struct {
	Store    storage.Repository
	Prices   PriceSource
	Notifier notify.Notifier
	// Locker and LockKey enable a cross-process advisory lock per tick.
	Locker      storage.AdvisoryLocker
	LockKey     int64
	Concurrency int
	Now         func() time.Time
}

// Report summarises a tick.
type Report struct {
	Started   time.Time
	Duration  time.Duration
	Checked   int
	Triggered int
	NoPrice   int
	Skipped   int
	Failed    int
	Notified  int
	Retried   int
	// Locked is set when another process held the advisory lock.
	Locked bool
}

func (r *Report) count(o Outcome) {
	switch o {
	case OutcomeChecked:
		r.Checked++
	case OutcomeTriggered:
		r.Checked++
		r.Triggered++
	case OutcomeNoPrice:
		r.NoPrice++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Tracker evaluates active alerts against fresh prices.
type Tracker struct {
	store       storage.Repository
	prices      PriceSource
	notifier    notify.Notifier
	locker      storage.AdvisoryLocker
	lockKey     int64
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger

	running atomic.Bool
}

// New constructs a Tracker.
func New(opts Options, logger zerolog.Logger) *Tracker {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:       opts.Store,
		prices:      opts.Prices,
		notifier:    opts.Notifier,
		locker:      opts.Locker,
		lockKey:     opts.LockKey,
		concurrency: concurrency,
		now:         now,
		logger:      logger.With().Str("component", "tracker").Logger(),
	}
}

// Tick adapts RunOnce to the scheduler callback.
func (t *Tracker) Tick(ctx context.Context, at time.Time) error {
	report, err := t.RunOnce(ctx)
	if errors.Is(err, ErrTickInProgress) {
		t.logger.Warn().Time("tick", at).Msg("previous tick still running; skipping")
		metrics.Ticks.WithLabelValues("overlap").Inc()
		return nil
	}
	if err != nil {
		metrics.Ticks.WithLabelValues("error").Inc()
		return err
	}
	if report.Locked {
		metrics.Ticks.WithLabelValues("locked").Inc()
		return nil
	}
	metrics.Ticks.WithLabelValues("ok").Inc()
	return nil
}

// RunOnce performs one full tick: notification retries, then every active alert.
func (t *Tracker) RunOnce(ctx context.Context) (Report, error) {
	if !t.running.CompareAndSwap(false, true) {
		return Report{}, ErrTickInProgress
	}
	defer t.running.Store(false)

	report := Report{Started: t.now().UTC()}
	if t.store == nil {
		return report, fmt.Errorf("tracker: store not configured")
	}

	unlock, proceed, err := t.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		report.Locked = true
		t.logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	report.Retried, report.Notified = t.retryPending(ctx)

	alerts, err := t.store.FindActive(ctx, t.now())
	if err != nil {
		return report, fmt.Errorf("load active alerts: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(t.concurrency)
	for _, a := range alerts {
		g.Go(func() error {
			outcome, notified := t.safeProcess(ctx, a)
			metrics.AlertChecks.WithLabelValues(string(outcome)).Inc()
			mu.Lock()
			report.count(outcome)
			if notified {
				report.Notified++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	t.logger.Info().
		Int("alerts", len(alerts)).
		Int("checked", report.Checked).
		Int("triggered", report.Triggered).
		Int("no_price", report.NoPrice).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("notified", report.Notified).
		Int("retried", report.Retried).
		Dur("duration", report.Duration).
		Msg("tick complete")
	return report, nil
}

// CheckAlert runs a single alert through the check pipeline immediately.
func (t *Tracker) CheckAlert(ctx context.Context, id string) (Outcome, *alert.PriceAlert, error) {
	a, err := t.store.FindByID(ctx, id)
	if err != nil {
		return OutcomeFailed, nil, err
	}
	if a.RefreshStatus(t.now()) != alert.StatusActive {
		return OutcomeSkipped, a, nil
	}
	outcome, _ := t.safeProcess(ctx, a)
	latest, err := t.store.FindByID(ctx, id)
	if err != nil {
		return outcome, nil, err
	}
	return outcome, latest, nil
}

// safeProcess isolates a single alert so a panic never escapes the tick.
func (t *Tracker) safeProcess(ctx context.Context, a *alert.PriceAlert) (outcome Outcome, notified bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Str("alert_id", a.ID).Interface("panic", r).Msg("alert check panicked")
			outcome, notified = OutcomeFailed, false
		}
	}()
	return t.process(ctx, a)
}

func (t *Tracker) process(ctx context.Context, a *alert.PriceAlert) (Outcome, bool) {
	logger := t.logger.With().Str("alert_id", a.ID).Str("type", string(a.Type)).Logger()

	price, source, ok, err := t.resolvePrice(ctx, a)
	if err != nil {
		logger.Warn().Err(err).Msg("alert search rejected")
	}

	now := t.now()
	if !ok {
		if _, err := t.store.Update(ctx, a.ID, func(p *alert.PriceAlert) error { return p.Touch(now) }); err != nil {
			return t.storeFailure(logger, err), false
		}
		return OutcomeNoPrice, false
	}

	var fresh bool
	updated, err := t.store.Update(ctx, a.ID, func(p *alert.PriceAlert) error {
		var checkErr error
		fresh, checkErr = p.CheckPrice(price, source, now)
		return checkErr
	})
	if err != nil {
		return t.storeFailure(logger, err), false
	}

	logger.Debug().Str("price", price.String()).Str("source", source).Bool("triggered", fresh).Msg("alert checked")
	if !fresh {
		return OutcomeChecked, false
	}

	logger.Info().Str("price", price.String()).
		Str("target", updated.TargetPrice.String()).
		Str("mode", string(updated.When.Mode)).
		Msg("alert triggered")
	if updated.NotificationSent {
		return OutcomeTriggered, false
	}
	return OutcomeTriggered, t.dispatch(ctx, updated)
}

func (t *Tracker) storeFailure(logger zerolog.Logger, err error) Outcome {
	switch {
	case errors.Is(err, alert.ErrDeleted), errors.Is(err, storage.ErrNotFound):
		logger.Debug().Err(err).Msg("alert removed during check")
		return OutcomeSkipped
	case errors.Is(err, alert.ErrOutOfOrder):
		logger.Warn().Err(err).Msg("observation rejected")
		return OutcomeSkipped
	default:
		logger.Error().Err(err).Msg("failed to persist alert check")
		return OutcomeFailed
	}
}

// resolvePrice routes by alert type. ok is false when no price is available.
func (t *Tracker) resolvePrice(ctx context.Context, a *alert.PriceAlert) (decimal.Decimal, string, bool, error) {
	if t.prices == nil {
		return decimal.Zero, "", false, nil
	}

	var (
		summary aggregator.Summary
		err     error
	)
	switch a.Type {
	case alert.TypeFlight:
		summary, err = t.prices.SearchFlights(ctx, FlightQuery(a))
	case alert.TypeHotel:
		summary, err = t.prices.SearchHotels(ctx, HotelQuery(a))
	default:
		// car and package alerts have no price source
		return decimal.Zero, "", false, nil
	}
	if err != nil {
		return decimal.Zero, "", false, err
	}
	if !summary.Available() {
		return decimal.Zero, "", false, nil
	}
	source := summary.LowestBy
	if source == "" {
		source = aggregator.SourceAggregate
	}
	return summary.Lowest, source, true, nil
}

// FlightQuery maps a flight alert onto the provider query.
func FlightQuery(a *alert.PriceAlert) provider.FlightQuery {
	q := provider.FlightQuery{
		Origin:      a.Search.Origin,
		Destination: a.Search.Destination,
		ReturnDate:  a.Search.ReturnDate,
		Adults:      a.Search.Passengers.Adults,
		Children:    a.Search.Passengers.Children,
		Infants:     a.Search.Passengers.Infants,
		Cabin:       a.Search.Cabin,
		Currency:    a.Currency,
	}
	if a.Search.DepartureDate != nil {
		q.DepartureDate = *a.Search.DepartureDate
	}
	return q
}

// HotelQuery maps a hotel alert onto the provider query. The departure date is
// the check-in; a missing return date means a single night.
func HotelQuery(a *alert.PriceAlert) provider.HotelQuery {
	q := provider.HotelQuery{
		Location: a.Search.Location,
		Guests:   a.Search.Passengers.Adults + a.Search.Passengers.Children,
		Rooms:    a.Search.Rooms,
		Currency: a.Currency,
	}
	if a.Search.DepartureDate != nil {
		q.CheckIn = *a.Search.DepartureDate
		q.CheckOut = q.CheckIn.AddDate(0, 0, 1)
	}
	if a.Search.ReturnDate != nil {
		q.CheckOut = *a.Search.ReturnDate
	}
	return q
}

func (t *Tracker) acquireLock(ctx context.Context) (func(), bool, error) {
	if t.lockKey == 0 || t.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := t.locker.TryAdvisoryLock(ctx, t.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
