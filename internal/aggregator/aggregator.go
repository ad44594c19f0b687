// Package aggregator fans a logical search out to every configured provider and
// folds the answers into a summary and a rolling price history.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/metrics"
	"pricewatch/internal/provider"
)

// SourceAggregate marks snapshots produced by aggregation.
const SourceAggregate = "aggregate"

// Options parameterise the Aggregator.
type Options struct {
	Providers []provider.Provider
	History   History
	// Now overrides the wall clock.
	Now func() time.Time
}

// Summary is the merged result of one aggregated search. An empty summary
// means no price was available this cycle; it is not an error.
type Summary struct {
	Key       string
	Offers    []provider.Offer
	Lowest    decimal.Decimal
	// LowestBy names the provider of the lowest offer.
	LowestBy  string
	Highest   decimal.Decimal
	Average   decimal.Decimal
	Currency  string
	Sources   []string
	Count     int
	Failures  map[string]error
	CheckedAt time.Time
}

// Available reports whether any provider returned a usable price.
func (s Summary) Available() bool {
	return s.Count > 0
}

// Aggregator merges provider answers.
type Aggregator struct {
	providers []provider.Provider
	history   History
	now       func() time.Time
	logger    zerolog.Logger
}

// New constructs an Aggregator.
func New(opts Options, logger zerolog.Logger) *Aggregator {
	history := opts.History
	if history == nil {
		history = NewMemoryHistory(DefaultHistoryLength)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		providers: opts.Providers,
		history:   history,
		now:       now,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// History exposes the rolling buffer backend.
func (a *Aggregator) History() History {
	return a.history
}

// SearchFlights aggregates a flight search. Validation failures are returned
// directly; provider failures only reduce the result set.
func (a *Aggregator) SearchFlights(ctx context.Context, q provider.FlightQuery) (Summary, error) {
	if err := q.Validate(); err != nil {
		return Summary{}, err
	}
	key := FlightKey(q.Origin, q.Destination)
	return a.run(ctx, "flight", key, q.Currency, func(ctx context.Context, p provider.Provider) ([]provider.Offer, error) {
		return p.SearchFlights(ctx, q)
	}), nil
}

// SearchHotels aggregates a hotel search.
func (a *Aggregator) SearchHotels(ctx context.Context, q provider.HotelQuery) (Summary, error) {
	if err := q.Validate(); err != nil {
		return Summary{}, err
	}
	key := HotelKey(q.Location)
	return a.run(ctx, "hotel", key, q.Currency, func(ctx context.Context, p provider.Provider) ([]provider.Offer, error) {
		return p.SearchHotels(ctx, q)
	}), nil
}

// Insights summarises the rolling history under key.
func (a *Aggregator) Insights(ctx context.Context, key string) (Stats, error) {
	snapshots, err := a.history.List(ctx, key)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(snapshots), nil
}

type searchFunc func(ctx context.Context, p provider.Provider) ([]provider.Offer, error)

type outcome struct {
	name   string
	offers []provider.Offer
	err    error
}

func (a *Aggregator) run(ctx context.Context, kind, key, currency string, search searchFunc) Summary {
	outcomes := make([]outcome, len(a.providers))
	var g errgroup.Group
	for i, p := range a.providers {
		g.Go(func() error {
			outcomes[i] = a.call(ctx, p, search)
			// never cancel sibling providers
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Key: key, CheckedAt: a.now().UTC()}
	for _, out := range outcomes {
		if out.err != nil {
			if summary.Failures == nil {
				summary.Failures = make(map[string]error)
			}
			summary.Failures[out.name] = out.err
			a.logger.Warn().Err(out.err).
				Str("provider", out.name).
				Str("kind", string(provider.KindOf(out.err))).
				Str("key", key).
				Msg("provider search failed")
			continue
		}

		contributed := false
		for _, offer := range out.offers {
			if !offer.Price.IsPositive() {
				continue
			}
			if currency != "" && offer.Currency != "" && !strings.EqualFold(offer.Currency, currency) {
				a.logger.Debug().Str("provider", out.name).Str("currency", offer.Currency).Msg("skip offer in foreign currency")
				continue
			}
			if offer.Provider == "" {
				offer.Provider = out.name
			}
			summary.Offers = append(summary.Offers, offer)
			contributed = true
		}
		if contributed {
			summary.Sources = append(summary.Sources, out.name)
		}
	}

	if len(summary.Offers) == 0 {
		metrics.Aggregations.WithLabelValues(kind, "empty").Inc()
		a.logger.Info().Str("key", key).Int("failed", len(summary.Failures)).Msg("no price available")
		return summary
	}

	lowestOffer := summary.Offers[0]
	total := decimal.Zero
	summary.Highest = summary.Offers[0].Price
	for _, offer := range summary.Offers {
		total = total.Add(offer.Price)
		if offer.Price.LessThan(lowestOffer.Price) {
			lowestOffer = offer
		}
		if offer.Price.GreaterThan(summary.Highest) {
			summary.Highest = offer.Price
		}
	}
	summary.Count = len(summary.Offers)
	summary.Lowest = lowestOffer.Price
	summary.LowestBy = lowestOffer.Provider
	summary.Average = total.Div(decimal.NewFromInt(int64(summary.Count))).Round(2)
	summary.Currency = currency
	if summary.Currency == "" {
		summary.Currency = lowestOffer.Currency
	}

	snapshot := Snapshot{
		Price:     summary.Lowest,
		Currency:  summary.Currency,
		Timestamp: summary.CheckedAt,
		Source:    SourceAggregate,
	}
	if err := a.history.Append(ctx, key, snapshot); err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("failed to record price snapshot")
	}

	metrics.Aggregations.WithLabelValues(kind, "available").Inc()
	a.logger.Debug().Str("key", key).
		Str("lowest", summary.Lowest.String()).
		Int("count", summary.Count).
		Strs("sources", summary.Sources).
		Msg("aggregated search")
	return summary
}

// call isolates one provider: errors and panics become its outcome.
func (a *Aggregator) call(ctx context.Context, p provider.Provider, search searchFunc) (out outcome) {
	out.name = p.Name()
	defer func() {
		if r := recover(); r != nil {
			out.offers = nil
			out.err = &provider.Error{Provider: out.name, Kind: provider.KindProvider, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out.offers, out.err = search(ctx, p)
	return out
}
