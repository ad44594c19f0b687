package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const amadeusFlightsJSON = `{"data":[
 {"id":"1","price":{"total":"480.00","currency":"USD"},"itineraries":[{"segments":[
   {"departure":{"iataCode":"JFK","at":"2026-05-01T18:00:00"},"arrival":{"iataCode":"DUB","at":"2026-05-02T05:00:00"},"carrierCode":"EI","number":"104"},
   {"departure":{"iataCode":"DUB","at":"2026-05-02T07:00:00"},"arrival":{"iataCode":"LHR","at":"2026-05-02T08:20:00"},"carrierCode":"EI","number":"152"}]}]},
 {"id":"2","price":{"total":"not-a-number","currency":"USD"}}
]}`

func testDeps() Deps {
	return Deps{Logger: zerolog.Nop(), Clock: SystemClock()}
}

func flightQuery() FlightQuery {
	return FlightQuery{
		Origin:        "JFK",
		Destination:   "LHR",
		DepartureDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Adults:        1,
	}
}

func newTestAmadeus(t *testing.T, baseURL string, cfg Config) Provider {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.APIKey == "" {
		cfg.APIKey = "secret"
	}
	p, err := NewAmadeus("amadeus", cfg, testDeps())
	if err != nil {
		t.Fatalf("new amadeus: %v", err)
	}
	return p
}

func TestAmadeusFlightsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/shopping/flight-offers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("originLocationCode"); got != "JFK" {
			t.Errorf("origin param: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(amadeusFlightsJSON))
	}))
	defer srv.Close()

	offers, err := newTestAmadeus(t, srv.URL, Config{}).SearchFlights(context.Background(), flightQuery())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("bad offer should be skipped, got %d offers", len(offers))
	}
	o := offers[0]
	if !o.Price.Equal(decimal.NewFromInt(480)) || o.Currency != "USD" || o.Provider != "amadeus" {
		t.Fatalf("unexpected offer: %+v", o)
	}
	if o.Flight == nil || o.Flight.Stops != 1 || o.Flight.ArrivalAirport != "LHR" || o.Flight.FlightNumber != "EI104" {
		t.Fatalf("flight details not mapped: %+v", o.Flight)
	}
	if len(o.Raw) == 0 {
		t.Fatal("raw payload should be kept")
	}
}

func TestAmadeusValidation(t *testing.T) {
	p := newTestAmadeus(t, "http://127.0.0.1:1", Config{})
	q := flightQuery()
	q.Origin = ""
	_, err := p.SearchFlights(context.Background(), q)
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAmadeusNormalisesStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusForbidden:           KindAuth,
		http.StatusNotFound:            KindNotFound,
		http.StatusServiceUnavailable:  KindServer,
		http.StatusUnprocessableEntity: KindProvider,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "3")
			}
			w.WriteHeader(status)
		}))
		_, err := newTestAmadeus(t, srv.URL, Config{}).SearchFlights(context.Background(), flightQuery())
		srv.Close()
		if !IsKind(err, want) {
			t.Fatalf("status %d: want %s, got %v", status, want, err)
		}
	}
}

func TestAmadeusRateLimitedPenalisesLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "20")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	clock := newFakeClock()
	p, err := NewAmadeus("amadeus", Config{APIKey: "k", BaseURL: srv.URL, Requests: 100, Window: time.Minute}, Deps{Logger: zerolog.Nop(), Clock: clock})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = p.SearchFlights(context.Background(), flightQuery())
	if !IsKind(err, KindRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	_, _ = p.SearchFlights(context.Background(), flightQuery())
	if len(clock.sleeps) != 1 || clock.sleeps[0] < 19*time.Second {
		t.Fatalf("second call should wait out Retry-After, sleeps=%v", clock.sleeps)
	}
}

func TestAmadeusTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestAmadeus(t, srv.URL, Config{Timeout: 50 * time.Millisecond}).SearchFlights(context.Background(), flightQuery())
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestAmadeusConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestAmadeus(t, addr, Config{}).SearchFlights(context.Background(), flightQuery())
	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestAmadeusHotels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cityCode") != "PAR" {
			t.Errorf("city code: %s", r.URL.Query().Get("cityCode"))
		}
		_, _ = w.Write([]byte(`{"data":[{"hotel":{"hotelId":"HLPAR1","name":"Le Test","rating":"4"},
			"offers":[{"id":"A","price":{"total":"210.50","currency":"EUR"}},{"id":"B","price":{"total":"250.00","currency":"EUR"}}]}]}`))
	}))
	defer srv.Close()

	q := HotelQuery{
		Location: "par",
		CheckIn:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		CheckOut: time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC),
	}
	offers, err := newTestAmadeus(t, srv.URL, Config{}).SearchHotels(context.Background(), q)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(offers) != 2 || offers[0].Hotel == nil || offers[0].Hotel.Rating != 4 {
		t.Fatalf("unexpected offers: %+v", offers)
	}
}

func TestAmadeusRequiresKey(t *testing.T) {
	if _, err := NewAmadeus("amadeus", Config{}, testDeps()); err == nil {
		t.Fatal("missing api key should fail")
	}
}
