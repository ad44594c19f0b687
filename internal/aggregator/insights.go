package aggregator

import "github.com/shopspring/decimal"

// Trend is the direction of recent prices.
type Trend string

const (
	TrendFalling Trend = "falling"
	TrendRising  Trend = "rising"
	TrendStable  Trend = "stable"
)

// trendWindow is the size of both the recent and the older window.
const trendWindow = 7

var (
	fallingRatio = decimal.RequireFromString("0.95")
	risingRatio  = decimal.RequireFromString("1.05")
	hundred      = decimal.NewFromInt(100)
)

// ClassifyTrend compares the mean of the last seven prices against the seven
// before them. Series shorter than two full windows are stable.
func ClassifyTrend(prices []decimal.Decimal) Trend {
	if len(prices) < 2*trendWindow {
		return TrendStable
	}
	recent := prices[len(prices)-trendWindow:]
	older := prices[len(prices)-2*trendWindow : len(prices)-trendWindow]

	recentAvg := mean(recent)
	olderAvg := mean(older)
	switch {
	case recentAvg.LessThanOrEqual(olderAvg.Mul(fallingRatio)):
		return TrendFalling
	case recentAvg.GreaterThanOrEqual(olderAvg.Mul(risingRatio)):
		return TrendRising
	default:
		return TrendStable
	}
}

// Rating grades a price against the historical average.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
)

// Deal is the outcome of RateDeal.
type Deal struct {
	SavingsPct decimal.Decimal
	Rating     Rating
}

// RateDeal grades price: savings above 20% are excellent, above 10% good,
// a premium beyond 10% poor, anything else fair.
func RateDeal(price, average decimal.Decimal) Deal {
	if !average.IsPositive() {
		return Deal{SavingsPct: decimal.Zero, Rating: RatingFair}
	}
	savings := average.Sub(price).Div(average).Mul(hundred)
	deal := Deal{SavingsPct: savings.Round(2), Rating: RatingFair}
	switch {
	case savings.GreaterThan(decimal.NewFromInt(20)):
		deal.Rating = RatingExcellent
	case savings.GreaterThan(decimal.NewFromInt(10)):
		deal.Rating = RatingGood
	case savings.LessThan(decimal.NewFromInt(-10)):
		deal.Rating = RatingPoor
	}
	return deal
}

// Stats summarises a history buffer.
type Stats struct {
	Count   int
	Lowest  decimal.Decimal
	Highest decimal.Decimal
	Average decimal.Decimal
	Trend   Trend
}

// Summarize computes Stats over snapshots in time order.
func Summarize(snapshots []Snapshot) Stats {
	if len(snapshots) == 0 {
		return Stats{Trend: TrendStable}
	}
	prices := make([]decimal.Decimal, len(snapshots))
	for i, s := range snapshots {
		prices[i] = s.Price
	}
	lo, hi := bounds(prices)
	return Stats{
		Count:   len(prices),
		Lowest:  lo,
		Highest: hi,
		Average: mean(prices).Round(2),
		Trend:   ClassifyTrend(prices),
	}
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}

func bounds(values []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v.LessThan(lo) {
			lo = v
		}
		if v.GreaterThan(hi) {
			hi = v
		}
	}
	return lo, hi
}
