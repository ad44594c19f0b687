package provider

import (
	"context"

	"github.com/rs/zerolog"
)

// stub is a placeholder adapter for sources without an integration yet. It
// validates input like a real adapter and answers with no offers.
type stub struct {
	name   string
	logger zerolog.Logger
}

// NewSkyscanner returns the Skyscanner placeholder.
func NewSkyscanner(name string, _ Config, deps Deps) (Provider, error) {
	return newStub(name, deps), nil
}

// NewExpedia returns the Expedia placeholder.
func NewExpedia(name string, _ Config, deps Deps) (Provider, error) {
	return newStub(name, deps), nil
}

func newStub(name string, deps Deps) *stub {
	return &stub{name: name, logger: deps.Logger.With().Str("component", "provider").Str("provider", name).Logger()}
}

func (s *stub) Name() string { return s.name }

func (s *stub) SearchFlights(ctx context.Context, q FlightQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, s.name)
	}
	s.logger.Debug().Msg("placeholder provider returns no flight offers")
	return nil, nil
}

func (s *stub) SearchHotels(ctx context.Context, q HotelQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, s.name)
	}
	s.logger.Debug().Msg("placeholder provider returns no hotel offers")
	return nil, nil
}

var _ Provider = (*stub)(nil)
