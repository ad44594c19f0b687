package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/aggregator"
	"pricewatch/internal/alert"
	"pricewatch/internal/provider"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// SimulateOptions describe a throwaway flight alert and the price to observe.
type SimulateOptions struct {
	Origin      string
	Destination string
	Date        time.Time
	Target      decimal.Decimal
	Original    *decimal.Decimal
	When        alert.Condition
	Observed    decimal.Decimal
	Currency    string
	Notify      alert.Preferences
}

// SimulateAlert 用固定报价跑一次完整的检查流程，包括通知。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (*alert.PriceAlert, error) {
	if !opts.Observed.IsPositive() {
		return nil, fmt.Errorf("observed price must be greater than zero")
	}

	now := time.Now()
	pa, err := alert.New(alert.Params{
		UserID:        "simulation",
		Type:          alert.TypeFlight,
		Search:        alert.Search{Origin: opts.Origin, Destination: opts.Destination, DepartureDate: &opts.Date},
		TargetPrice:   opts.Target,
		Currency:      opts.Currency,
		OriginalPrice: opts.Original,
		When:          opts.When,
		Notify:        opts.Notify,
	}, now)
	if err != nil {
		return nil, err
	}

	store := storage.NewMemory()
	if _, err := store.Create(ctx, pa); err != nil {
		return nil, err
	}

	static := provider.NewStaticPrice("simulated", opts.Observed, pa.Currency)
	agg := aggregator.New(aggregator.Options{Providers: []provider.Provider{static}}, a.Logger)
	tr := tracker.New(tracker.Options{
		Store:    store,
		Prices:   agg,
		Notifier: a.newNotifier(),
	}, a.Logger)

	report, err := tr.RunOnce(ctx)
	if err != nil {
		return nil, err
	}

	result, err := store.FindByID(ctx, pa.ID)
	if err != nil {
		return nil, err
	}
	a.printf("status=%s triggered=%d notified=%d observed=%s target=%s\n",
		result.Status, report.Triggered, report.Notified, opts.Observed.StringFixed(2), result.TargetPrice.StringFixed(2))
	return result, nil
}
