package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"farewatch/internal/alerting"
	"farewatch/internal/anomaly"
)

// SimulateFare runs one synthetic observation through scoring,
// classification, and alert delivery without touching the database.
func (a *App) SimulateFare(ctx context.Context, origin, destination string, price decimal.Decimal, history []decimal.Decimal) error {
	opts := a.Config.AnomalyOptions()

	stats, result, err := anomaly.Score(price, history, opts)
	if err != nil {
		return err
	}
	decision := anomaly.Classify(result, opts)

	event := a.Logger.Info().
		Str("route", origin+"-"+destination).
		Str("price_nzd", stats.Current.StringFixed(2)).
		Int("history_count", stats.Count).
		Bool("suspicious", decision.Suspicious).
		Bool("alert_worthy", decision.AlertWorthy)
	if result.ZScore != nil {
		event = event.Str("z_score", result.ZScore.StringFixed(2)).
			Str("confidence", result.Confidence.StringFixed(4)).
			Str("percentile", stats.Percentile.StringFixed(4))
	}
	event.Msg("simulated observation scored")

	if !decision.AlertWorthy {
		return nil
	}

	alert, err := anomaly.BuildAlert(
		anomaly.RouteInfo{Origin: origin, Destination: destination},
		anomaly.Observation{PriceNZD: stats.Current, ScrapedAt: time.Now().UTC()},
		result,
		decision,
	)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("message", alert.Message).Msg("simulated alert built")

	if !a.Config.Alerting.Enabled {
		return nil
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("alerting enabled but no delivery channel configured")
	}

	note := alerting.Notification{
		Origin:      origin,
		Destination: destination,
		Alert:       alert,
		Confidence:  result.Confidence,
		Channels:    a.Config.Alerting.Channels,
	}
	return notifier.Notify(ctx, note)
}
