package provider

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Static answers every search with one offer at a fixed price. It is used for
// dry runs and alert simulation.
type Static struct {
	name     string
	price    decimal.Decimal
	currency string
}

// NewStatic builds a fixed-price provider from config.
func NewStatic(name string, cfg Config, _ Deps) (Provider, error) {
	if !cfg.FixedPrice.IsPositive() {
		return nil, fmt.Errorf("fixed_price must be greater than zero")
	}
	return NewStaticPrice(name, cfg.FixedPrice, cfg.Currency), nil
}

// NewStaticPrice builds a fixed-price provider directly.
func NewStaticPrice(name string, price decimal.Decimal, currency string) *Static {
	if currency == "" {
		currency = "USD"
	}
	return &Static{name: name, price: price, currency: currency}
}

func (s *Static) Name() string { return s.name }

func (s *Static) SearchFlights(ctx context.Context, q FlightQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, s.name)
	}
	return []Offer{{
		ID:       fmt.Sprintf("%s-%s-%s", s.name, q.Origin, q.Destination),
		Provider: s.name,
		Price:    s.price,
		Currency: s.currency,
		Flight: &FlightDetails{
			DepartureAirport: q.Origin,
			ArrivalAirport:   q.Destination,
			DepartureAt:      q.DepartureDate,
		},
	}}, nil
}

func (s *Static) SearchHotels(ctx context.Context, q HotelQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, s.name)
	}
	return []Offer{{
		ID:       fmt.Sprintf("%s-%s", s.name, q.Location),
		Provider: s.name,
		Price:    s.price,
		Currency: s.currency,
		Hotel:    &HotelDetails{Name: q.Location, CheckIn: q.CheckIn, CheckOut: q.CheckOut},
	}}, nil
}

var _ Provider = (*Static)(nil)
