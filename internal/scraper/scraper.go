package scraper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FareQuote is the proposed price observation a fare source produces. The
// anomaly core consumes it; DOM extraction and browser automation live in an
// external collaborator behind the same interface.
type FareQuote struct {
	PriceNZD      decimal.Decimal
	Airline       string
	Stops         int
	CabinClass    string
	DepartureDate time.Time
	ReturnDate    *time.Time
	Raw           json.RawMessage
}

// FareFetcher retrieves the current best fare for an origin/destination pair.
type FareFetcher interface {
	FetchFare(ctx context.Context, origin, destination string) (FareQuote, error)
}
