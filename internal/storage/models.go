package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Route is a monitored origin/destination pair.
type Route struct {
	ID                   int64
	Origin               string
	Destination          string
	Name                 string
	IsActive             bool
	ScrapeFrequencyHours int
	CreatedAt            time.Time
}

// FlightPrice is one scraped fare observation. Immutable once recorded,
// except for the anomaly fields written back after scoring.
type FlightPrice struct {
	ID            int64
	RouteID       int64
	ScrapedAt     time.Time
	DepartureDate time.Time
	ReturnDate    *time.Time
	PriceNZD      decimal.Decimal
	Airline       string
	Stops         int
	CabinClass    string
	Passengers    int
	RawQuote      json.RawMessage
	ZScore        *decimal.Decimal
	Confidence    *decimal.Decimal
	IsSuspicious  bool
	CreatedAt     time.Time
}

// PriceRow joins an observation with its route label for display.
type PriceRow struct {
	FlightPrice
	Origin      string
	Destination string
}

// AlertRecord is a persisted alert; append-only after creation.
type AlertRecord struct {
	ID            int64
	RouteID       int64
	FlightPriceID *int64
	AlertType     string
	PriceNZD      decimal.Decimal
	ZScore        *decimal.Decimal
	Message       string
	AIAnalysis    *string
	Channels      []string
	TriggeredAt   time.Time
	CreatedAt     time.Time
}
