package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestStatusErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
		{http.StatusBadRequest, KindProvider},
	}
	for _, tc := range cases {
		err := statusError("p", tc.status, http.Header{}, nil)
		if err.Kind != tc.want {
			t.Fatalf("status %d: want %s, got %s", tc.status, tc.want, err.Kind)
		}
	}
}

func TestStatusErrorRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "12")
	err := statusError("p", http.StatusTooManyRequests, h, []byte("slow down"))
	if err.RetryAfter != 12*time.Second {
		t.Fatalf("expected 12s, got %s", err.RetryAfter)
	}
	if err.Err == nil || err.Err.Error() != "slow down" {
		t.Fatalf("body should be kept as cause: %v", err.Err)
	}
}

func TestParseRetryAfterDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	if got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if parseRetryAfter("soon", now) != 0 {
		t.Fatal("garbage should parse to zero")
	}
}

func TestTransportErrorKinds(t *testing.T) {
	cases := map[string]struct {
		err  error
		want Kind
	}{
		"deadline": {fmt.Errorf("get: %w", context.DeadlineExceeded), KindTimeout},
		"dns":      {&net.DNSError{Err: "no such host", Name: "example.invalid"}, KindNetwork},
		"dial":     {&net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		"other":    {errors.New("tls handshake failure"), KindProvider},
	}
	for name, tc := range cases {
		if got := transportError("p", tc.err).Kind; got != tc.want {
			t.Fatalf("%s: want %s, got %s", name, tc.want, got)
		}
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatal("nil has no kind")
	}
	if KindOf(errors.New("x")) != KindProvider {
		t.Fatal("foreign errors classify as provider errors")
	}
	wrapped := fmt.Errorf("outer: %w", &Error{Kind: KindAuth})
	if !IsKind(wrapped, KindAuth) {
		t.Fatal("wrapped errors keep their kind")
	}
}
