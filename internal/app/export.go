package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"farewatch/internal/storage"
)

// Export renders one route's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.RouteID <= 0 {
		return errors.New("--route must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	route, err := store.GetRoute(ctx, opts.RouteID)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	prices, err := store.ListPricesBetween(ctx, route.ID, from, to)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		a.Logger.Info().Int64("route_id", route.ID).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsamplePrices(prices, opts.MaxPoints)
	a.Logger.Info().
		Int64("route_id", route.ID).
		Int("total", len(prices)).
		Int("exported", len(downsampled)).
		Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, route, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePrices(prices []storage.FlightPrice, max int) []storage.FlightPrice {
	if max <= 0 || len(prices) <= max {
		return prices
	}

	result := make([]storage.FlightPrice, 0, max)
	step := float64(len(prices)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(prices) {
			idx = len(prices) - 1
		}
		result = append(result, prices[idx])
	}
	return result
}

func writePricesCSV(path string, prices []storage.FlightPrice) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"scraped_at", "route_id", "price_nzd", "airline", "stops", "cabin_class", "z_score", "confidence", "is_suspicious"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, price := range prices {
		record := []string{
			price.ScrapedAt.Format(time.RFC3339),
			strconv.FormatInt(price.RouteID, 10),
			price.PriceNZD.StringFixed(2),
			price.Airline,
			strconv.Itoa(price.Stops),
			price.CabinClass,
			formatNullable(price.ZScore, 2),
			formatNullable(price.Confidence, 4),
			strconv.FormatBool(price.IsSuspicious),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePricesPNG(path string, route storage.Route, prices []storage.FlightPrice) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(prices))
	fares := make([]float64, len(prices))
	zScores := make([]float64, len(prices))

	for i, price := range prices {
		x[i] = price.ScrapedAt
		fares[i] = price.PriceNZD.InexactFloat64()
		if price.ZScore != nil {
			zScores[i] = price.ZScore.InexactFloat64()
		}
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s-%s fares", route.Origin, route.Destination),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (NZD)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Z-score",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price NZD",
				XValues: x,
				YValues: fares,
			},
			chart.TimeSeries{
				Name:    "Z-score",
				XValues: x,
				YValues: zScores,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
