// Package provider is the uniform adapter layer in front of external price sources.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds a single outbound call unless a provider overrides it.
const DefaultTimeout = 30 * time.Second

// Provider is implemented by every price source adapter.
// Expected failures are returned as *Error; adapters never panic on bad upstream data.
type Provider interface {
	Name() string
	SearchFlights(ctx context.Context, q FlightQuery) ([]Offer, error)
	SearchHotels(ctx context.Context, q HotelQuery) ([]Offer, error)
}

// FlightQuery is the canonical flight search.
type FlightQuery struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	Adults        int
	Children      int
	Infants       int
	Cabin         string
	Currency      string
}

// Validate checks the fields every provider needs.
func (q FlightQuery) Validate() error {
	switch {
	case strings.TrimSpace(q.Origin) == "":
		return invalid("origin is required")
	case strings.TrimSpace(q.Destination) == "":
		return invalid("destination is required")
	case q.DepartureDate.IsZero():
		return invalid("departure date is required")
	case q.ReturnDate != nil && q.ReturnDate.Before(q.DepartureDate):
		return invalid("return date precedes departure date")
	}
	return nil
}

// HotelQuery is the canonical hotel search.
type HotelQuery struct {
	Location string
	CheckIn  time.Time
	CheckOut time.Time
	Guests   int
	Rooms    int
	Currency string
}

// Validate checks the fields every provider needs.
func (q HotelQuery) Validate() error {
	switch {
	case strings.TrimSpace(q.Location) == "":
		return invalid("location is required")
	case q.CheckIn.IsZero():
		return invalid("check-in date is required")
	case q.CheckOut.IsZero():
		return invalid("check-out date is required")
	case !q.CheckOut.After(q.CheckIn):
		return invalid("check-out must be after check-in")
	}
	return nil
}

func invalid(msg string) error {
	return &Error{Kind: KindValidation, Err: errors.New(msg)}
}

// Offer is the provider-agnostic search result.
type Offer struct {
	ID       string
	Provider string
	Price    decimal.Decimal
	Currency string
	DeepLink string
	Flight   *FlightDetails
	Hotel    *HotelDetails
	Raw      json.RawMessage
}

// FlightDetails carries flight specific fields.
type FlightDetails struct {
	Carrier          string
	FlightNumber     string
	DepartureAirport string
	ArrivalAirport   string
	DepartureAt      time.Time
	ArrivalAt        time.Time
	Stops            int
}

// HotelDetails carries hotel specific fields.
type HotelDetails struct {
	PropertyID string
	Name       string
	Rating     float64
	CheckIn    time.Time
	CheckOut   time.Time
}

func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}

func orOne(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}
