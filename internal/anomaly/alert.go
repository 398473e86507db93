package anomaly

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RouteInfo carries the route fields an alert message needs.
type RouteInfo struct {
	ID          int64
	Origin      string
	Destination string
	Name        string
}

// Observation is the scored price observation an alert refers to.
type Observation struct {
	FlightPriceID *int64
	PriceNZD      decimal.Decimal
	Airline       string
	ScrapedAt     time.Time
}

// Alert is an in-memory alert ready for persistence. The store assigns the
// id; ai_analysis stays nil here and may be filled in by an external text
// generator after persistence.
type Alert struct {
	RouteID       int64
	FlightPriceID *int64
	Type          AlertType
	PriceNZD      decimal.Decimal
	ZScore        *decimal.Decimal
	Message       string
	AIAnalysis    *string
	TriggeredAt   time.Time
}

// BuildAlert constructs an Alert from a qualifying classification.
//
// Callers must gate on the classifier: a decision that is not suspicious and
// alert-worthy returns ErrPrecondition. Construction is pure; no ids or
// store round-trips are involved.
func BuildAlert(route RouteInfo, obs Observation, res Result, decision Decision) (Alert, error) {
	if !decision.Suspicious || !decision.AlertWorthy {
		return Alert{}, fmt.Errorf("alert requested for non-qualifying decision (suspicious=%t, worthy=%t): %w",
			decision.Suspicious, decision.AlertWorthy, ErrPrecondition)
	}
	if res.ZScore == nil {
		return Alert{}, fmt.Errorf("alert requested without a z-score: %w", ErrPrecondition)
	}

	return Alert{
		RouteID:       route.ID,
		FlightPriceID: obs.FlightPriceID,
		Type:          decision.Type,
		PriceNZD:      obs.PriceNZD.Round(pricePlaces),
		ZScore:        res.ZScore,
		Message:       renderAlertMessage(route, obs, *res.ZScore, decision.Type),
		TriggeredAt:   obs.ScrapedAt,
	}, nil
}

func renderAlertMessage(route RouteInfo, obs Observation, z decimal.Decimal, typ AlertType) string {
	verb := "moved anomalously"
	switch typ {
	case AlertPriceDrop:
		verb = "dropped"
	case AlertPriceSpike:
		verb = "spiked"
	}
	msg := fmt.Sprintf("Price for %s-%s %s to $%s NZD (z=%s)",
		route.Origin, route.Destination, verb, obs.PriceNZD.StringFixed(pricePlaces), z.StringFixed(zScorePlaces))
	if obs.Airline != "" {
		msg += fmt.Sprintf(" on %s", obs.Airline)
	}
	return msg
}
