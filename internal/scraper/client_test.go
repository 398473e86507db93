package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchFareMissingConfig(t *testing.T) {
	c := NewClient(ClientOptions{}, noopLogger())
	if _, err := c.FetchFare(context.Background(), "AKL", "SYD"); err == nil {
		t.Fatal("missing base url should error")
	}

	c = NewClient(ClientOptions{BaseURL: "http://localhost"}, noopLogger())
	if _, err := c.FetchFare(context.Background(), "", "SYD"); err == nil {
		t.Fatal("missing origin should error")
	}
}

func TestFetchFareHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorType": "bad_request"})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchFare(context.Background(), "AKL", "SYD"); err == nil {
		t.Fatal("HTTP 400 should error")
	}
}

func TestFetchFareNoItineraries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"itineraries": []any{}})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchFare(context.Background(), "AKL", "SYD"); err == nil {
		t.Fatal("empty result set should error")
	}
}

func TestFetchFarePicksCheapest(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"itineraries": []map[string]any{
				{
					"price":          map[string]string{"amount": "612.50", "currency": "NZD"},
					"airline":        "QF",
					"stops":          1,
					"departure_date": "2026-09-24",
					"return_date":    "2026-10-01",
				},
				{
					"price":          map[string]string{"amount": "529.00", "currency": "NZD"},
					"airline":        "NZ",
					"stops":          0,
					"departure_date": "2026-09-24",
					"return_date":    "2026-10-01",
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		BaseURL:        srv.URL,
		Timeout:        time.Second,
		UserAgent:      "test",
		Passengers:     2,
		CabinClass:     "economy",
		DaysAhead:      30,
		TripLengthDays: 7,
	}, noopLogger())

	quote, err := c.FetchFare(context.Background(), "AKL", "SYD")
	if err != nil {
		t.Fatalf("successful response should not error: %v", err)
	}

	if !quote.PriceNZD.Equal(decimal.RequireFromString("529.00")) {
		t.Fatalf("expected cheapest fare 529.00, got %s", quote.PriceNZD)
	}
	if quote.Airline != "NZ" || quote.Stops != 0 {
		t.Fatalf("expected the NZ direct itinerary, got %+v", quote)
	}
	if quote.DepartureDate.Format("2006-01-02") != "2026-09-24" {
		t.Fatalf("unexpected departure date: %s", quote.DepartureDate)
	}
	if quote.ReturnDate == nil || quote.ReturnDate.Format("2006-01-02") != "2026-10-01" {
		t.Fatalf("unexpected return date: %v", quote.ReturnDate)
	}

	if got := gotQuery["origin"]; len(got) != 1 || got[0] != "AKL" {
		t.Fatalf("origin not forwarded: %v", gotQuery)
	}
	if got := gotQuery["adults"]; len(got) != 1 || got[0] != "2" {
		t.Fatalf("passenger count not forwarded: %v", gotQuery)
	}
}

func TestFetchFareRejectsForeignCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"itineraries": []map[string]any{
				{
					"price":          map[string]string{"amount": "400.00", "currency": "AUD"},
					"airline":        "QF",
					"departure_date": "2026-09-24",
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchFare(context.Background(), "AKL", "SYD"); err == nil {
		t.Fatal("non-NZD itinerary should error")
	}
}
