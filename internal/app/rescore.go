package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"farewatch/internal/anomaly"
	"farewatch/internal/storage"
)

// Rescore replays the anomaly scorer over stored observations in
// chronological order and writes the confidence/suspicious flags back.
// Useful after threshold changes; with --dry-run nothing is written.
func (a *App) Rescore(ctx context.Context, opts RescoreOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot rescore")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var routes []storage.Route
	if opts.RouteID > 0 {
		route, err := store.GetRoute(ctx, opts.RouteID)
		if err != nil {
			return err
		}
		routes = []storage.Route{route}
	} else {
		routes, err = store.ListActiveRoutes(ctx)
		if err != nil {
			return err
		}
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("rescore dry-run: no fields will be written")
	}

	scoringOpts := a.Config.AnomalyOptions()
	window := a.Config.Anomaly.HistoryWindow

	for _, route := range routes {
		scored, updated, err := a.rescoreRoute(ctx, store, route, scoringOpts, window, opts.DryRun)
		if err != nil {
			return err
		}
		a.Logger.Info().
			Int64("route_id", route.ID).
			Int("scored", scored).
			Int("updated", updated).
			Msg("route rescored")
	}
	return nil
}

func (a *App) rescoreRoute(ctx context.Context, store storage.PriceStore, route storage.Route, opts anomaly.Options, window int, dryRun bool) (scored, updated int, err error) {
	prices, err := store.ListRoutePricesAsc(ctx, route.ID)
	if err != nil {
		return 0, 0, err
	}

	history := make([]decimal.Decimal, 0, window)
	for _, price := range prices {
		_, result, scoreErr := anomaly.Score(price.PriceNZD, history, opts)
		if scoreErr != nil {
			a.Logger.Error().Err(scoreErr).Int64("price_id", price.ID).Msg("skipping unscorable observation")
		} else {
			decision := anomaly.Classify(result, opts)
			scored++
			if anomalyFieldsChanged(price, result, decision) {
				updated++
				if !dryRun {
					if err := store.UpdateAnomalyFields(ctx, price.ID, result.ZScore, result.Confidence, decision.Suspicious); err != nil {
						return scored, updated, err
					}
				}
			}
		}

		history = append(history, price.PriceNZD)
		if window > 0 && len(history) > window {
			history = history[1:]
		}
	}
	return scored, updated, nil
}

func anomalyFieldsChanged(price storage.FlightPrice, result anomaly.Result, decision anomaly.Decision) bool {
	if price.IsSuspicious != decision.Suspicious {
		return true
	}
	if !decimalPtrEqual(price.ZScore, result.ZScore) {
		return true
	}
	return !decimalPtrEqual(price.Confidence, result.Confidence)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
