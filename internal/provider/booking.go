package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// BookingBaseURL is the default Booking.com distribution endpoint.
	BookingBaseURL = "https://distribution-xml.booking.com"
	// booking search is slow enough to need a longer budget than the default
	bookingTimeout = 45 * time.Second
)

// Booking adapts a Booking.com style hotel availability API. It has no flight inventory.
type Booking struct {
	http *httpClient
}

// NewBooking builds the Booking adapter.
func NewBooking(name string, cfg Config, deps Deps) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}
	return &Booking{http: newHTTPClient(name, cfg, deps, BookingBaseURL, bookingTimeout)}, nil
}

func (b *Booking) Name() string { return b.http.name }

// SearchFlights validates the query and returns no offers.
func (b *Booking) SearchFlights(ctx context.Context, q FlightQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, b.Name())
	}
	return nil, nil
}

// SearchHotels queries hotel availability.
func (b *Booking) SearchHotels(ctx context.Context, q HotelQuery) ([]Offer, error) {
	if err := q.Validate(); err != nil {
		return nil, withProvider(err, b.Name())
	}

	params := url.Values{}
	params.Set("dest", q.Location)
	params.Set("checkin", dateParam(q.CheckIn))
	params.Set("checkout", dateParam(q.CheckOut))
	params.Set("adults", strconv.Itoa(orOne(q.Guests)))
	params.Set("rooms", strconv.Itoa(orOne(q.Rooms)))
	if q.Currency != "" {
		params.Set("currency", q.Currency)
	}

	var resp bookingResponse
	if _, err := b.http.getJSON(ctx, "/v1/hotels/search", params, &resp); err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var item bookingHotel
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if !item.MinTotalPrice.IsPositive() {
			continue
		}
		offers = append(offers, Offer{
			ID:       strconv.FormatInt(item.HotelID, 10),
			Provider: b.Name(),
			Price:    item.MinTotalPrice,
			Currency: item.CurrencyCode,
			DeepLink: item.URL,
			Hotel: &HotelDetails{
				PropertyID: strconv.FormatInt(item.HotelID, 10),
				Name:       item.HotelName,
				Rating:     item.ReviewScore,
				CheckIn:    q.CheckIn,
				CheckOut:   q.CheckOut,
			},
			Raw: raw,
		})
	}
	return offers, nil
}

type bookingResponse struct {
	Result []json.RawMessage `json:"result"`
}

type bookingHotel struct {
	HotelID       int64           `json:"hotel_id"`
	HotelName     string          `json:"hotel_name"`
	ReviewScore   float64         `json:"review_score"`
	MinTotalPrice decimal.Decimal `json:"min_total_price"`
	CurrencyCode  string          `json:"currency_code"`
	URL           string          `json:"url"`
}

var _ Provider = (*Booking)(nil)
