package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmadeusBaseURL is the self-service test environment that free API keys are issued for.
const AmadeusBaseURL = "https://test.api.amadeus.com"

// Amadeus adapts the Amadeus self-service shopping APIs.
type Amadeus struct {
	http *httpClient
}

// NewAmadeus builds the Amadeus adapter.
func NewAmadeus(name string, cfg Config, deps Deps) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}
	return &Amadeus{http: newHTTPClient(name, cfg, deps, AmadeusBaseURL, DefaultTimeout)}, nil
}

func (a *Amadeus) Name() string { return a.http.name }

// SearchFlights queries flight offers.
func (a *Amadeus) SearchFlights(ctx context.Context, q FlightQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, a.Name())
	}

	params := url.Values{}
	params.Set("originLocationCode", strings.ToUpper(q.Origin))
	params.Set("destinationLocationCode", strings.ToUpper(q.Destination))
	params.Set("departureDate", dateParam(q.DepartureDate))
	if q.ReturnDate != nil {
		params.Set("returnDate", dateParam(*q.ReturnDate))
	}
	params.Set("adults", strconv.Itoa(orOne(q.Adults)))
	if q.Children > 0 {
		params.Set("children", strconv.Itoa(q.Children))
	}
	if q.Infants > 0 {
		params.Set("infants", strconv.Itoa(q.Infants))
	}
	if q.Cabin != "" {
		params.Set("travelClass", strings.ToUpper(q.Cabin))
	}
	if q.Currency != "" {
		params.Set("currencyCode", q.Currency)
	}
	params.Set("max", "50")

	var resp amadeusEnvelope
	if _, err := a.http.getJSON(ctx, "/v2/shopping/flight-offers", params, &resp); err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var item amadeusFlightOffer
		if err := json.Unmarshal(raw, &item); err != nil {
			a.http.logger.Debug().Err(err).Msg("skip undecodable flight offer")
			continue
		}
		price, err := decimal.NewFromString(item.Price.Total)
		if err != nil {
			continue
		}
		offer := Offer{
			ID:       item.ID,
			Provider: a.Name(),
			Price:    price,
			Currency: item.Price.Currency,
			Raw:      raw,
		}
		if len(item.Itineraries) > 0 && len(item.Itineraries[0].Segments) > 0 {
			segs := item.Itineraries[0].Segments
			first, last := segs[0], segs[len(segs)-1]
			offer.Flight = &FlightDetails{
				Carrier:          first.CarrierCode,
				FlightNumber:     first.CarrierCode + first.Number,
				DepartureAirport: first.Departure.IATACode,
				ArrivalAirport:   last.Arrival.IATACode,
				DepartureAt:      parseLocal(first.Departure.At),
				ArrivalAt:        parseLocal(last.Arrival.At),
				Stops:            len(segs) - 1,
			}
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// SearchHotels queries hotel offers by city code.
func (a *Amadeus) SearchHotels(ctx context.Context, q HotelQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, a.Name())
	}

	params := url.Values{}
	params.Set("cityCode", strings.ToUpper(q.Location))
	params.Set("checkInDate", dateParam(q.CheckIn))
	params.Set("checkOutDate", dateParam(q.CheckOut))
	params.Set("adults", strconv.Itoa(orOne(q.Guests)))
	params.Set("roomQuantity", strconv.Itoa(orOne(q.Rooms)))
	if q.Currency != "" {
		params.Set("currency", q.Currency)
	}

	var resp amadeusEnvelope
	if _, err := a.http.getJSON(ctx, "/v3/shopping/hotel-offers", params, &resp); err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var item amadeusHotelOffers
		if err := json.Unmarshal(raw, &item); err != nil {
			a.http.logger.Debug().Err(err).Msg("skip undecodable hotel offer")
			continue
		}
		rating, _ := strconv.ParseFloat(item.Hotel.Rating, 64)
		for _, o := range item.Offers {
			price, err := decimal.NewFromString(o.Price.Total)
			if err != nil {
				continue
			}
			offers = append(offers, Offer{
				ID:       o.ID,
				Provider: a.Name(),
				Price:    price,
				Currency: o.Price.Currency,
				Hotel: &HotelDetails{
					PropertyID: item.Hotel.HotelID,
					Name:       item.Hotel.Name,
					Rating:     rating,
					CheckIn:    q.CheckIn,
					CheckOut:   q.CheckOut,
				},
				Raw: raw,
			})
		}
	}
	return offers, nil
}

type amadeusEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

type amadeusPrice struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type amadeusFlightOffer struct {
	ID          string       `json:"id"`
	Price       amadeusPrice `json:"price"`
	Itineraries []struct {
		Segments []struct {
			Departure   amadeusEndpoint `json:"departure"`
			Arrival     amadeusEndpoint `json:"arrival"`
			CarrierCode string          `json:"carrierCode"`
			Number      string          `json:"number"`
		} `json:"segments"`
	} `json:"itineraries"`
}

type amadeusEndpoint struct {
	IATACode string `json:"iataCode"`
	At       string `json:"at"`
}

type amadeusHotelOffers struct {
	Hotel struct {
		HotelID string `json:"hotelId"`
		Name    string `json:"name"`
		Rating  string `json:"rating"`
	} `json:"hotel"`
	Offers []struct {
		ID    string       `json:"id"`
		Price amadeusPrice `json:"price"`
	} `json:"offers"`
}

func parseLocal(v string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

var _ Provider = (*Amadeus)(nil)
