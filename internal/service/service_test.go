package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"farewatch/internal/alerting"
	"farewatch/internal/config"
	"farewatch/internal/scraper"
	"farewatch/internal/storage"
)

type fakeStore struct {
	routes []storage.Route
	prices []storage.FlightPrice
	alerts []storage.AlertRecord
	nextID int64
}

func (f *fakeStore) ListActiveRoutes(ctx context.Context) ([]storage.Route, error) {
	return f.routes, nil
}

func (f *fakeStore) GetRoute(ctx context.Context, id int64) (storage.Route, error) {
	for _, r := range f.routes {
		if r.ID == id {
			return r, nil
		}
	}
	return storage.Route{}, errors.New("route not found")
}

func (f *fakeStore) InsertFlightPrice(ctx context.Context, price storage.FlightPrice) (storage.FlightPrice, error) {
	f.nextID++
	price.ID = f.nextID
	f.prices = append(f.prices, price)
	return price, nil
}

func (f *fakeStore) ListRecentPrices(ctx context.Context, routeID int64, limit int) ([]storage.FlightPrice, error) {
	matched := make([]storage.FlightPrice, 0)
	for _, p := range f.prices {
		if p.RouteID == routeID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ScrapedAt.After(matched[j].ScrapedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeStore) ListRoutePricesAsc(ctx context.Context, routeID int64) ([]storage.FlightPrice, error) {
	matched := make([]storage.FlightPrice, 0)
	for _, p := range f.prices {
		if p.RouteID == routeID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ScrapedAt.Before(matched[j].ScrapedAt) })
	return matched, nil
}

func (f *fakeStore) ListPricesBetween(ctx context.Context, routeID int64, from, to time.Time) ([]storage.FlightPrice, error) {
	return nil, nil
}

func (f *fakeStore) ListRecentPriceRows(ctx context.Context, limit int) ([]storage.PriceRow, error) {
	return nil, nil
}

func (f *fakeStore) UpdateAnomalyFields(ctx context.Context, priceID int64, zScore, confidence *decimal.Decimal, suspicious bool) error {
	for i := range f.prices {
		if f.prices[i].ID == priceID {
			f.prices[i].ZScore = zScore
			f.prices[i].Confidence = confidence
			f.prices[i].IsSuspicious = suspicious
		}
	}
	return nil
}

func (f *fakeStore) CountPrices(ctx context.Context) (int64, error) {
	return int64(len(f.prices)), nil
}

func (f *fakeStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	alert.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, alert)
	return alert, nil
}

func (f *fakeStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return f.alerts, nil
}

func (f *fakeStore) LatestAlertTime(ctx context.Context, routeID int64) (*time.Time, error) {
	var latest *time.Time
	for _, a := range f.alerts {
		if a.RouteID != routeID {
			continue
		}
		t := a.TriggeredAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func (f *fakeStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

type staticFetcher struct {
	price decimal.Decimal
}

func (s *staticFetcher) FetchFare(ctx context.Context, origin, destination string) (scraper.FareQuote, error) {
	return scraper.FareQuote{
		PriceNZD:      s.price,
		Airline:       "NZ",
		CabinClass:    "economy",
		DepartureDate: time.Date(2026, 9, 24, 0, 0, 0, 0, time.UTC),
		Raw:           json.RawMessage("{}"),
	}, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scraper: config.ScraperConfig{Passengers: 1},
		Anomaly: config.AnomalyConfig{
			MinSampleSize:    5,
			ZThreshold:       2.0,
			ConfidenceFloor:  0.3,
			ConfidenceCurveK: 4.0,
			Direction:        "drop_only",
			HistoryWindow:    30,
		},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Cooldown: 6 * time.Hour,
			Channels: []string{"telegram"},
		},
	}
}

func seedHistory(store *fakeStore, routeID int64, base time.Time, values ...float64) {
	for i, v := range values {
		store.nextID++
		store.prices = append(store.prices, storage.FlightPrice{
			ID:        store.nextID,
			RouteID:   routeID,
			ScrapedAt: base.Add(time.Duration(i) * time.Hour),
			PriceNZD:  decimal.NewFromFloat(v),
		})
	}
}

func newTestService(store *fakeStore, fetcher scraper.FareFetcher, notifier alerting.Notifier) *Service {
	return New(testConfig(), nil, fetcher, store, store, store, notifier, zerolog.Nop())
}

func TestProcessCycleAlertsOnDrop(t *testing.T) {
	cycle := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{routes: []storage.Route{{ID: 7, Origin: "AKL", Destination: "SYD", Name: "Auckland to Sydney", IsActive: true, ScrapeFrequencyHours: 12}}}
	seedHistory(store, 7, cycle.Add(-6*24*time.Hour), 500, 510, 495, 505, 520)
	notifier := &recordingNotifier{}

	svc := newTestService(store, &staticFetcher{price: decimal.NewFromInt(300)}, notifier)
	if err := svc.ProcessCycle(context.Background(), cycle); err != nil {
		t.Fatalf("process cycle failed: %v", err)
	}

	if len(store.prices) != 6 {
		t.Fatalf("expected the observation to be persisted, got %d rows", len(store.prices))
	}
	obs := store.prices[5]
	if !obs.IsSuspicious {
		t.Fatal("a 300 fare against a ~506 mean must be suspicious")
	}
	if obs.ZScore == nil || obs.ZScore.Sign() >= 0 {
		t.Fatalf("expected a negative z-score, got %v", obs.ZScore)
	}

	if len(store.alerts) != 1 {
		t.Fatalf("expected one alert record, got %d", len(store.alerts))
	}
	if store.alerts[0].AlertType != "price_drop" {
		t.Fatalf("expected price_drop, got %s", store.alerts[0].AlertType)
	}
	if store.alerts[0].FlightPriceID == nil || *store.alerts[0].FlightPriceID != obs.ID {
		t.Fatalf("alert should reference the observation, got %v", store.alerts[0].FlightPriceID)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Origin != "AKL" || notifier.notes[0].Destination != "SYD" {
		t.Fatalf("notification should carry the route, got %+v", notifier.notes[0])
	}
}

func TestProcessCycleOrdinaryPriceNoAlert(t *testing.T) {
	cycle := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{routes: []storage.Route{{ID: 7, Origin: "AKL", Destination: "SYD", IsActive: true}}}
	seedHistory(store, 7, cycle.Add(-6*24*time.Hour), 500, 510, 495, 505, 520)
	notifier := &recordingNotifier{}

	svc := newTestService(store, &staticFetcher{price: decimal.NewFromInt(505)}, notifier)
	if err := svc.ProcessCycle(context.Background(), cycle); err != nil {
		t.Fatalf("process cycle failed: %v", err)
	}

	if len(store.prices) != 6 {
		t.Fatalf("expected the observation to be persisted, got %d rows", len(store.prices))
	}
	if store.prices[5].IsSuspicious {
		t.Fatal("an in-range fare must not be suspicious")
	}
	if len(store.alerts) != 0 || len(notifier.notes) != 0 {
		t.Fatalf("no alert expected, got %d alerts / %d notifications", len(store.alerts), len(notifier.notes))
	}
}

func TestProcessCycleInsufficientHistory(t *testing.T) {
	cycle := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{routes: []storage.Route{{ID: 7, Origin: "AKL", Destination: "SYD", IsActive: true}}}
	notifier := &recordingNotifier{}

	svc := newTestService(store, &staticFetcher{price: decimal.NewFromInt(400)}, notifier)
	if err := svc.ProcessCycle(context.Background(), cycle); err != nil {
		t.Fatalf("process cycle failed: %v", err)
	}

	if len(store.prices) != 1 {
		t.Fatalf("expected one observation, got %d", len(store.prices))
	}
	obs := store.prices[0]
	if obs.ZScore != nil || obs.Confidence != nil || obs.IsSuspicious {
		t.Fatalf("empty history must score nil and never flag, got %+v", obs)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("no notification expected on insufficient history")
	}
}

func TestProcessCycleCooldownSuppressesAlert(t *testing.T) {
	cycle := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{routes: []storage.Route{{ID: 7, Origin: "AKL", Destination: "SYD", IsActive: true, ScrapeFrequencyHours: 1}}}
	seedHistory(store, 7, cycle.Add(-6*24*time.Hour), 500, 510, 495, 505, 520)
	recent := cycle.Add(-1 * time.Hour)
	store.alerts = append(store.alerts, storage.AlertRecord{ID: 1, RouteID: 7, AlertType: "price_drop", TriggeredAt: recent})
	notifier := &recordingNotifier{}

	svc := newTestService(store, &staticFetcher{price: decimal.NewFromInt(300)}, notifier)
	if err := svc.ProcessCycle(context.Background(), cycle); err != nil {
		t.Fatalf("process cycle failed: %v", err)
	}

	if len(store.alerts) != 1 {
		t.Fatalf("cooldown should suppress a second alert, got %d", len(store.alerts))
	}
	if len(notifier.notes) != 0 {
		t.Fatal("cooldown should suppress notification")
	}
}

func TestProcessCycleSkipsRouteNotDue(t *testing.T) {
	cycle := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{routes: []storage.Route{{ID: 7, Origin: "AKL", Destination: "SYD", IsActive: true, ScrapeFrequencyHours: 24}}}
	// Last observation one hour ago; route samples daily.
	seedHistory(store, 7, cycle.Add(-1*time.Hour), 500)
	notifier := &recordingNotifier{}

	svc := newTestService(store, &staticFetcher{price: decimal.NewFromInt(300)}, notifier)
	if err := svc.ProcessCycle(context.Background(), cycle); err != nil {
		t.Fatalf("process cycle failed: %v", err)
	}

	if len(store.prices) != 1 {
		t.Fatalf("route not due should not be sampled, got %d rows", len(store.prices))
	}
}
