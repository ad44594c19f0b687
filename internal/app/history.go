package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"pricewatch/internal/aggregator"
	"pricewatch/internal/provider"
)

// HistoryOptions select a route or location and optionally search it live first.
type HistoryOptions struct {
	Origin      string
	Destination string
	Location    string
	Date        *time.Time
	Nights      int
	Currency    string
}

func (o HistoryOptions) key() (string, error) {
	switch {
	case o.Origin != "" || o.Destination != "":
		if o.Origin == "" || o.Destination == "" {
			return "", errors.New("--origin and --destination must be set together")
		}
		return aggregator.FlightKey(o.Origin, o.Destination), nil
	case o.Location != "":
		return aggregator.HotelKey(o.Location), nil
	default:
		return "", errors.New("either --origin/--destination or --location is required")
	}
}

// History prints price insights for a route or location.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	key, err := opts.key()
	if err != nil {
		return err
	}

	history, closeHistory, err := a.newHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	var providers []provider.Provider
	if opts.Date != nil {
		if providers, err = a.newProviders(); err != nil {
			return err
		}
	}
	agg := a.newAggregator(history, providers)

	var live *aggregator.Summary
	if opts.Date != nil {
		summary, err := a.searchLive(ctx, agg, opts)
		if err != nil {
			return err
		}
		live = &summary
	}

	stats, err := agg.Insights(ctx, key)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "key\t%s\n", key)
	if live != nil {
		if live.Available() {
			fmt.Fprintf(writer, "live lowest\t%s %s\n", live.Lowest.StringFixed(2), live.Currency)
			fmt.Fprintf(writer, "live sources\t%s\n", strings.Join(live.Sources, ","))
			if stats.Count > 0 {
				deal := aggregator.RateDeal(live.Lowest, stats.Average)
				fmt.Fprintf(writer, "deal\t%s (%s%% vs average)\n", deal.Rating, deal.SavingsPct.StringFixed(2))
			}
		} else {
			fmt.Fprintf(writer, "live lowest\tunavailable\n")
		}
	}
	fmt.Fprintf(writer, "snapshots\t%d\n", stats.Count)
	if stats.Count > 0 {
		fmt.Fprintf(writer, "lowest\t%s\n", stats.Lowest.StringFixed(2))
		fmt.Fprintf(writer, "highest\t%s\n", stats.Highest.StringFixed(2))
		fmt.Fprintf(writer, "average\t%s\n", stats.Average.StringFixed(2))
	}
	fmt.Fprintf(writer, "trend\t%s\n", stats.Trend)
	return writer.Flush()
}

func (a *App) searchLive(ctx context.Context, agg *aggregator.Aggregator, opts HistoryOptions) (aggregator.Summary, error) {
	if opts.Origin != "" {
		return agg.SearchFlights(ctx, provider.FlightQuery{
			Origin:        opts.Origin,
			Destination:   opts.Destination,
			DepartureDate: *opts.Date,
			Adults:        1,
			Currency:      opts.Currency,
		})
	}
	nights := opts.Nights
	if nights <= 0 {
		nights = 1
	}
	return agg.SearchHotels(ctx, provider.HotelQuery{
		Location: opts.Location,
		CheckIn:  *opts.Date,
		CheckOut: opts.Date.AddDate(0, 0, nights),
		Guests:   1,
		Rooms:    1,
		Currency: opts.Currency,
	})
}
