package provider

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRegistryBuildsEnabledProviders(t *testing.T) {
	cfgs := map[string]Config{
		"static":     {Enabled: true, FixedPrice: decimal.NewFromInt(480), Currency: "USD"},
		"skyscanner": {Enabled: true},
		"expedia":    {Enabled: false},
		"amadeus":    {Enabled: false},
	}
	providers, err := NewRegistry().Build(cfgs, testDeps())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(providers) != 2 || providers[0].Name() != "skyscanner" || providers[1].Name() != "static" {
		t.Fatalf("unexpected providers: %v", providers)
	}

	offers, err := providers[1].SearchFlights(context.Background(), flightQuery())
	if err != nil || len(offers) != 1 || !offers[0].Price.Equal(decimal.NewFromInt(480)) {
		t.Fatalf("static provider offers: %v %v", offers, err)
	}
	offers, err = providers[0].SearchFlights(context.Background(), flightQuery())
	if err != nil || len(offers) != 0 {
		t.Fatalf("stub provider should answer empty: %v %v", offers, err)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := NewRegistry().Build(map[string]Config{"nope": {Enabled: true}}, testDeps())
	if err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestRegistryInstancesDoNotShareLimiters(t *testing.T) {
	clock := newFakeClock()
	deps := testDeps()
	deps.Clock = clock
	cfg := map[string]Config{"amadeus": {Enabled: true, APIKey: "k", Requests: 1, Window: time.Minute}}

	first, err := NewRegistry().Build(cfg, deps)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := NewRegistry().Build(cfg, deps)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	a := first[0].(*Amadeus).http.limiter
	b := second[0].(*Amadeus).http.limiter
	if a == b {
		t.Fatal("each build must create fresh limiter state")
	}
	if _, err := a.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if waited, _ := b.Wait(context.Background()); waited != 0 {
		t.Fatal("second instance must not see the first instance's count")
	}
}

func TestStubValidates(t *testing.T) {
	p, _ := NewExpedia("expedia", Config{}, testDeps())
	if _, err := p.SearchHotels(context.Background(), HotelQuery{}); !IsKind(err, KindValidation) {
		t.Fatalf("stub should still validate, got %v", err)
	}
}
