package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"farewatch/internal/alerting"
	"farewatch/internal/anomaly"
	"farewatch/internal/config"
	"farewatch/internal/scheduler"
	"farewatch/internal/scraper"
	"farewatch/internal/storage"
)

// Service orchestrates fare sampling, scoring, persistence, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	fetcher   scraper.FareFetcher
	routes    storage.RouteStore
	prices    storage.PriceStore
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	opts          anomaly.Options
	historyWindow int
	passengers    int
	cooldown      time.Duration
	channels      []string
	alertsOn      bool
	locker        storage.AdvisoryLocker
	lockKey       int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, fetcher scraper.FareFetcher, routes storage.RouteStore, prices storage.PriceStore, alerts storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := prices.(storage.AdvisoryLocker); ok {
		locker = l
	}

	historyWindow := cfg.Anomaly.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = 30
	}

	return &Service{
		scheduler:     sched,
		fetcher:       fetcher,
		routes:        routes,
		prices:        prices,
		alerts:        alerts,
		notifier:      notifier,
		logger:        logger.With().Str("component", "service").Logger(),
		opts:          cfg.AnomalyOptions(),
		historyWindow: historyWindow,
		passengers:    cfg.Scraper.Passengers,
		cooldown:      cfg.Alerting.Cooldown,
		channels:      cfg.Alerting.Channels,
		alertsOn:      cfg.Alerting.Enabled,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
		locker:        locker,
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle samples every due route once. Route failures are logged and
// never abort the remaining routes.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	routes, err := s.routes.ListActiveRoutes(ctx)
	if err != nil {
		return fmt.Errorf("list active routes: %w", err)
	}
	if len(routes) == 0 {
		s.logger.Warn().Time("cycle", cycle).Msg("no active routes configured")
		return nil
	}

	for _, route := range routes {
		due, err := s.routeDue(ctx, route, cycle)
		if err != nil {
			s.logger.Error().Err(err).Int64("route_id", route.ID).Msg("failed to check route schedule")
			continue
		}
		if !due {
			continue
		}
		if err := s.processRoute(ctx, cycle, route); err != nil {
			s.logger.Error().Err(err).
				Int64("route_id", route.ID).
				Str("route", route.Origin+"-"+route.Destination).
				Msg("route sampling failed")
		}
	}
	return nil
}

func (s *Service) routeDue(ctx context.Context, route storage.Route, cycle time.Time) (bool, error) {
	recent, err := s.prices.ListRecentPrices(ctx, route.ID, 1)
	if err != nil {
		return false, err
	}
	if len(recent) == 0 {
		return true, nil
	}

	frequency := time.Duration(route.ScrapeFrequencyHours) * time.Hour
	if frequency <= 0 {
		frequency = 24 * time.Hour
	}
	return cycle.Sub(recent[0].ScrapedAt) >= frequency, nil
}

func (s *Service) processRoute(ctx context.Context, cycle time.Time, route storage.Route) error {
	quote, err := s.fetcher.FetchFare(ctx, route.Origin, route.Destination)
	if err != nil {
		return fmt.Errorf("fetch fare: %w", err)
	}

	history, err := s.prices.ListRecentPrices(ctx, route.ID, s.historyWindow)
	if err != nil {
		return fmt.Errorf("load history window: %w", err)
	}
	historical := make([]decimal.Decimal, len(history))
	for i, h := range history {
		historical[i] = h.PriceNZD
	}

	stats, result, err := anomaly.Score(quote.PriceNZD, historical, s.opts)
	if err != nil {
		return fmt.Errorf("score observation: %w", err)
	}
	decision := anomaly.Classify(result, s.opts)

	observation := storage.FlightPrice{
		RouteID:       route.ID,
		ScrapedAt:     cycle,
		DepartureDate: quote.DepartureDate,
		ReturnDate:    quote.ReturnDate,
		PriceNZD:      stats.Current,
		Airline:       quote.Airline,
		Stops:         quote.Stops,
		CabinClass:    quote.CabinClass,
		Passengers:    s.passengers,
		RawQuote:      quote.Raw,
		ZScore:        result.ZScore,
		Confidence:    result.Confidence,
		IsSuspicious:  decision.Suspicious,
	}

	var flightPriceID *int64
	inserted, err := s.prices.InsertFlightPrice(ctx, observation)
	if err != nil {
		s.logger.Error().Err(err).Int64("route_id", route.ID).Msg("failed to persist observation")
	} else {
		flightPriceID = &inserted.ID
	}

	event := s.logger.Info().
		Int64("route_id", route.ID).
		Str("route", route.Origin+"-"+route.Destination).
		Str("price_nzd", stats.Current.StringFixed(2)).
		Int("history_count", stats.Count).
		Bool("suspicious", decision.Suspicious)
	if result.ZScore != nil {
		event = event.Str("z_score", result.ZScore.StringFixed(2)).
			Str("confidence", result.Confidence.StringFixed(4)).
			Str("percentile", stats.Percentile.StringFixed(4))
	}
	event.Msg("observation recorded")

	if !s.alertsOn || s.notifier == nil || !decision.AlertWorthy {
		return nil
	}

	withinCooldown, err := s.withinCooldown(ctx, route.ID, cycle)
	if err != nil {
		s.logger.Error().Err(err).Int64("route_id", route.ID).Msg("failed to check alert cooldown")
		return nil
	}
	if withinCooldown {
		s.logger.Debug().Int64("route_id", route.ID).Msg("alert suppressed by cooldown")
		return nil
	}

	alert, err := anomaly.BuildAlert(
		anomaly.RouteInfo{ID: route.ID, Origin: route.Origin, Destination: route.Destination, Name: route.Name},
		anomaly.Observation{FlightPriceID: flightPriceID, PriceNZD: stats.Current, Airline: quote.Airline, ScrapedAt: cycle},
		result,
		decision,
	)
	if err != nil {
		return fmt.Errorf("build alert: %w", err)
	}

	if s.alerts != nil {
		record := storage.AlertRecord{
			RouteID:       alert.RouteID,
			FlightPriceID: alert.FlightPriceID,
			AlertType:     string(alert.Type),
			PriceNZD:      alert.PriceNZD,
			ZScore:        alert.ZScore,
			Message:       alert.Message,
			AIAnalysis:    alert.AIAnalysis,
			Channels:      s.channels,
			TriggeredAt:   alert.TriggeredAt,
		}
		if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Int64("route_id", route.ID).Msg("failed to persist alert record")
		}
	}

	note := alerting.Notification{
		Origin:      route.Origin,
		Destination: route.Destination,
		RouteName:   route.Name,
		Alert:       alert,
		Confidence:  result.Confidence,
		Channels:    s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Int64("route_id", route.ID).Msg("failed to dispatch alert")
	}

	return nil
}

func (s *Service) withinCooldown(ctx context.Context, routeID int64, cycle time.Time) (bool, error) {
	if s.cooldown <= 0 || s.alerts == nil {
		return false, nil
	}
	latest, err := s.alerts.LatestAlertTime(ctx, routeID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	return cycle.Sub(*latest) < s.cooldown, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
