package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/aggregator"
	"pricewatch/internal/alert"
	"pricewatch/internal/notify"
	"pricewatch/internal/provider"
	"pricewatch/internal/storage"
)

var baseTime = time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []decimal.Decimal
	fail  int
}

func (r *recordingNotifier) SendPriceAlert(_ context.Context, a *alert.PriceAlert, triggered decimal.Decimal, _ *decimal.Decimal) (notify.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, triggered)
	if r.fail > 0 {
		r.fail--
		return notify.Receipt{}, errors.New("channel down")
	}
	return notify.Receipt{Channel: "test", Reference: a.ID}, nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func flightAlert(t *testing.T, store storage.Repository, origin, target string) *alert.PriceAlert {
	t.Helper()
	departure := baseTime.AddDate(0, 1, 0)
	a, err := alert.New(alert.Params{
		UserID:      "u1",
		Type:        alert.TypeFlight,
		Search:      alert.Search{Origin: origin, Destination: "LHR", DepartureDate: &departure},
		TargetPrice: decimal.RequireFromString(target),
		When:        alert.Condition{Mode: alert.ModeBelow},
	}, baseTime)
	if err != nil {
		t.Fatalf("new alert: %v", err)
	}
	if _, err := store.Create(context.Background(), a); err != nil {
		t.Fatalf("create: %v", err)
	}
	return a
}

func staticPrices(price string) *aggregator.Aggregator {
	return aggregator.New(aggregator.Options{
		Providers: []provider.Provider{provider.NewStaticPrice("static", decimal.RequireFromString(price), "USD")},
		Now:       func() time.Time { return baseTime },
	}, zerolog.Nop())
}

func newTracker(store storage.Repository, prices PriceSource, n notify.Notifier) *Tracker {
	return New(Options{
		Store:    store,
		Prices:   prices,
		Notifier: n,
		Now:      func() time.Time { return baseTime.Add(time.Hour) },
	}, zerolog.Nop())
}

func TestTickTriggersAndNotifiesOnce(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	notifier := &recordingNotifier{}
	tr := newTracker(store, staticPrices("480"), notifier)

	report, err := tr.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Checked != 1 || report.Triggered != 1 || report.Notified != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, _ := store.FindByID(context.Background(), a.ID)
	if got.Status != alert.StatusTriggered || !got.NotificationSent || got.NotificationSentAt == nil {
		t.Fatalf("alert not triggered and notified: %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Source != "static" || !got.History[0].Price.Equal(decimal.RequireFromString("480")) {
		t.Fatalf("unexpected history %+v", got.History)
	}
	if got.TriggeredPrice == nil || !got.TriggeredPrice.Equal(decimal.RequireFromString("480")) {
		t.Fatalf("unexpected triggered price %v", got.TriggeredPrice)
	}

	if _, err := tr.RunOnce(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.count())
	}
}

func TestTickAboveTargetOnlyRecordsHistory(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	notifier := &recordingNotifier{}
	tr := newTracker(store, staticPrices("520"), notifier)

	report, _ := tr.RunOnce(context.Background())
	if report.Checked != 1 || report.Triggered != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if got.Status != alert.StatusActive || got.CheckCount != 1 || got.CurrentPrice == nil {
		t.Fatalf("unexpected alert %+v", got)
	}
	if notifier.count() != 0 {
		t.Fatalf("no notification expected")
	}
}

func TestFailedDispatchIsRetried(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	notifier := &recordingNotifier{fail: 1}
	tr := newTracker(store, staticPrices("480"), notifier)

	report, _ := tr.RunOnce(context.Background())
	if report.Triggered != 1 || report.Notified != 0 {
		t.Fatalf("unexpected first report %+v", report)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if got.NotificationSent {
		t.Fatal("failed dispatch must not mark the alert notified")
	}

	report, _ = tr.RunOnce(context.Background())
	if report.Retried != 1 || report.Notified != 1 {
		t.Fatalf("unexpected retry report %+v", report)
	}
	got, _ = store.FindByID(context.Background(), a.ID)
	if !got.NotificationSent {
		t.Fatal("retry should mark the alert notified")
	}

	report, _ = tr.RunOnce(context.Background())
	if report.Retried != 0 || notifier.count() != 2 {
		t.Fatalf("expected no further dispatch, report %+v calls %d", report, notifier.count())
	}
}

// rearmingNotifier re-arms the alert while its first message is in flight.
type rearmingNotifier struct {
	recordingNotifier
	store storage.Repository
	at    time.Time
}

func (r *rearmingNotifier) SendPriceAlert(ctx context.Context, a *alert.PriceAlert, triggered decimal.Decimal, original *decimal.Decimal) (notify.Receipt, error) {
	if r.count() == 0 {
		if _, err := r.store.Update(ctx, a.ID, func(p *alert.PriceAlert) error { return p.Rearm(r.at) }); err != nil {
			return notify.Receipt{}, err
		}
	}
	return r.recordingNotifier.SendPriceAlert(ctx, a, triggered, original)
}

func TestRearmDuringDispatchNotifiesNextTrigger(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	clock := baseTime.Add(time.Hour)
	notifier := &rearmingNotifier{store: store, at: clock}
	tr := New(Options{
		Store:    store,
		Prices:   staticPrices("480"),
		Notifier: notifier,
		Now:      func() time.Time { return clock },
	}, zerolog.Nop())

	report, _ := tr.RunOnce(context.Background())
	if report.Triggered != 1 || report.Notified != 0 {
		t.Fatalf("unexpected first report %+v", report)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if got.Status != alert.StatusActive || got.NotificationSent {
		t.Fatalf("rearmed alert must keep its notification gate open: status=%s sent=%v", got.Status, got.NotificationSent)
	}

	clock = clock.Add(time.Hour)
	report, _ = tr.RunOnce(context.Background())
	if report.Triggered != 1 || report.Notified != 1 {
		t.Fatalf("unexpected second report %+v", report)
	}
	got, _ = store.FindByID(context.Background(), a.ID)
	if got.Status != alert.StatusTriggered || !got.NotificationSent || got.PendingNotification() {
		t.Fatalf("second trigger not acknowledged: status=%s sent=%v", got.Status, got.NotificationSent)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected two dispatches, got %d", notifier.count())
	}
}

func TestNoNotifierLeavesPending(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	tr := newTracker(store, staticPrices("480"), nil)

	if _, err := tr.RunOnce(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if !got.PendingNotification() {
		t.Fatalf("expected pending notification, got %+v", got)
	}
}

func TestNoPriceOnlyTouches(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	empty := aggregator.New(aggregator.Options{}, zerolog.Nop())
	tr := newTracker(store, empty, &recordingNotifier{})

	report, _ := tr.RunOnce(context.Background())
	if report.NoPrice != 1 || report.Checked != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if got.LastCheckedAt == nil || got.CheckCount != 0 || len(got.History) != 0 || got.Status != alert.StatusActive {
		t.Fatalf("expected only bookkeeping, got %+v", got)
	}
}

func TestCarAlertsHaveNoPriceSource(t *testing.T) {
	store := storage.NewMemory()
	a, err := alert.New(alert.Params{
		UserID:      "u1",
		Type:        alert.TypeCar,
		Search:      alert.Search{Location: "LAX"},
		TargetPrice: decimal.RequireFromString("40"),
	}, baseTime)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, _ = store.Create(context.Background(), a)
	tr := newTracker(store, staticPrices("10"), &recordingNotifier{})

	report, _ := tr.RunOnce(context.Background())
	if report.NoPrice != 1 || report.Triggered != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

type scriptedPrices struct {
	started  chan struct{}
	release  chan struct{}
	onSearch func(q provider.FlightQuery)
}

func (s *scriptedPrices) SearchFlights(ctx context.Context, q provider.FlightQuery) (aggregator.Summary, error) {
	if s.onSearch != nil {
		s.onSearch(q)
	}
	if q.Origin == "BAD" {
		panic("provider exploded")
	}
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	return aggregator.Summary{Lowest: decimal.RequireFromString("450"), LowestBy: "scripted", Count: 1}, nil
}

func (s *scriptedPrices) SearchHotels(context.Context, provider.HotelQuery) (aggregator.Summary, error) {
	return aggregator.Summary{}, nil
}

func TestAlertFailuresAreIsolated(t *testing.T) {
	store := storage.NewMemory()
	bad := flightAlert(t, store, "BAD", "500")
	good := flightAlert(t, store, "JFK", "500")
	tr := newTracker(store, &scriptedPrices{}, &recordingNotifier{})

	report, err := tr.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Failed != 1 || report.Triggered != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	gotBad, _ := store.FindByID(context.Background(), bad.ID)
	gotGood, _ := store.FindByID(context.Background(), good.ID)
	if gotBad.Status != alert.StatusActive || gotGood.Status != alert.StatusTriggered {
		t.Fatalf("unexpected statuses bad=%s good=%s", gotBad.Status, gotGood.Status)
	}
}

func TestDeletedDuringCheckIsSkipped(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	prices := &scriptedPrices{onSearch: func(provider.FlightQuery) {
		_, _ = store.Delete(context.Background(), a.ID)
	}}
	notifier := &recordingNotifier{}
	tr := newTracker(store, prices, notifier)

	report, _ := tr.RunOnce(context.Background())
	if report.Skipped != 1 || notifier.count() != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if got.Status != alert.StatusDeleted || len(got.History) != 0 {
		t.Fatalf("deleted alert was modified: %+v", got)
	}
}

func TestOverlappingTickIsRejected(t *testing.T) {
	store := storage.NewMemory()
	flightAlert(t, store, "JFK", "500")
	prices := &scriptedPrices{started: make(chan struct{}), release: make(chan struct{})}
	tr := newTracker(store, prices, &recordingNotifier{})

	done := make(chan error, 1)
	go func() {
		_, err := tr.RunOnce(context.Background())
		done <- err
	}()
	<-prices.started

	if _, err := tr.RunOnce(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}
	if err := tr.Tick(context.Background(), baseTime); err != nil {
		t.Fatalf("overlapping scheduler tick should be skipped quietly: %v", err)
	}

	close(prices.release)
	if err := <-done; err != nil {
		t.Fatalf("first tick: %v", err)
	}
}

type fakeLocker struct{ acquired bool }

func (f fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func TestAdvisoryLockHeldElsewhere(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	tr := New(Options{
		Store:   store,
		Prices:  staticPrices("480"),
		Locker:  fakeLocker{acquired: false},
		LockKey: 42,
	}, zerolog.Nop())

	report, err := tr.RunOnce(context.Background())
	if err != nil || !report.Locked {
		t.Fatalf("expected locked report, got %+v %v", report, err)
	}
	got, _ := store.FindByID(context.Background(), a.ID)
	if got.CheckCount != 0 {
		t.Fatal("no alert should be checked without the lock")
	}
}

func TestCheckAlert(t *testing.T) {
	store := storage.NewMemory()
	a := flightAlert(t, store, "JFK", "500")
	tr := newTracker(store, staticPrices("480"), &recordingNotifier{})

	outcome, got, err := tr.CheckAlert(context.Background(), a.ID)
	if err != nil || outcome != OutcomeTriggered || got.Status != alert.StatusTriggered {
		t.Fatalf("unexpected check: %s %+v %v", outcome, got, err)
	}
	outcome, _, _ = tr.CheckAlert(context.Background(), a.ID)
	if outcome != OutcomeSkipped {
		t.Fatalf("triggered alert should be skipped, got %s", outcome)
	}
	if _, _, err := tr.CheckAlert(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHotelQueryDefaultsToOneNight(t *testing.T) {
	checkIn := baseTime.AddDate(0, 2, 0)
	a := &alert.PriceAlert{Type: alert.TypeHotel, Currency: "EUR", Search: alert.Search{
		Location: "PARIS", DepartureDate: &checkIn, Passengers: alert.Passengers{Adults: 2},
	}}
	q := HotelQuery(a)
	if !q.CheckOut.Equal(checkIn.AddDate(0, 0, 1)) || q.Guests != 2 || q.Currency != "EUR" {
		t.Fatalf("unexpected hotel query %+v", q)
	}
	if err := q.Validate(); err != nil {
		t.Fatalf("query should validate: %v", err)
	}
}
