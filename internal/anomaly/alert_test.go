package anomaly

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuildAlertRejectsNonQualifying(t *testing.T) {
	z := dec("-0.10")
	c := dec("0.9750")
	res := Result{ZScore: &z, Confidence: &c}

	_, err := BuildAlert(RouteInfo{ID: 1}, Observation{PriceNZD: dec("505")}, res, Decision{})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition for non-suspicious decision, got %v", err)
	}

	// Suspicious but not alert-worthy (e.g. spike under drop_only).
	_, err = BuildAlert(RouteInfo{ID: 1}, Observation{PriceNZD: dec("900")}, res, Decision{Suspicious: true})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition for non-worthy decision, got %v", err)
	}
}

func TestBuildAlertDrop(t *testing.T) {
	z := dec("-21.42")
	c := dec("0")
	res := Result{ZScore: &z, Confidence: &c}
	scraped := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	priceID := int64(42)

	alert, err := BuildAlert(
		RouteInfo{ID: 7, Origin: "AKL", Destination: "SYD", Name: "Auckland to Sydney"},
		Observation{FlightPriceID: &priceID, PriceNZD: dec("300"), Airline: "NZ", ScrapedAt: scraped},
		res,
		Decision{Suspicious: true, AlertWorthy: true, Type: AlertPriceDrop},
	)
	if err != nil {
		t.Fatalf("build alert failed: %v", err)
	}

	if alert.RouteID != 7 {
		t.Fatalf("expected route id 7, got %d", alert.RouteID)
	}
	if alert.FlightPriceID == nil || *alert.FlightPriceID != 42 {
		t.Fatalf("expected flight price ref 42, got %v", alert.FlightPriceID)
	}
	if alert.Type != AlertPriceDrop {
		t.Fatalf("expected price_drop, got %s", alert.Type)
	}
	if !strings.Contains(alert.Message, "AKL-SYD") || !strings.Contains(alert.Message, "dropped to $300.00 NZD") {
		t.Fatalf("unexpected message: %q", alert.Message)
	}
	if !strings.Contains(alert.Message, "z=-21.42") {
		t.Fatalf("message should carry the z-score: %q", alert.Message)
	}
	if alert.AIAnalysis != nil {
		t.Fatal("ai_analysis must be nil at generation time")
	}
	if !alert.TriggeredAt.Equal(scraped) {
		t.Fatalf("triggered_at should follow the observation, got %s", alert.TriggeredAt)
	}
}

func TestBuildAlertIsPureConstruction(t *testing.T) {
	z := dec("-3.00")
	c := dec("0.2500")
	res := Result{ZScore: &z, Confidence: &c}
	decision := Decision{Suspicious: true, AlertWorthy: true, Type: AlertPriceDrop}
	route := RouteInfo{ID: 1, Origin: "WLG", Destination: "MEL"}
	obs := Observation{PriceNZD: dec("210.50"), ScrapedAt: time.Unix(1756000000, 0).UTC()}

	a1, err := BuildAlert(route, obs, res, decision)
	if err != nil {
		t.Fatalf("build alert failed: %v", err)
	}
	a2, err := BuildAlert(route, obs, res, decision)
	if err != nil {
		t.Fatalf("build alert failed: %v", err)
	}
	if a1.Message != a2.Message || !a1.PriceNZD.Equal(a2.PriceNZD) || !a1.TriggeredAt.Equal(a2.TriggeredAt) {
		t.Fatalf("identical inputs produced different alerts: %+v vs %+v", a1, a2)
	}
	if !a1.PriceNZD.Equal(dec("210.5")) {
		t.Fatalf("price should round-trip at 2dp, got %s", a1.PriceNZD)
	}
}
