package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"farewatch/internal/storage"
)

type priceRowLister interface {
	ListRecentPriceRows(ctx context.Context, limit int) ([]storage.PriceRow, error)
}

type alertLister interface {
	ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error)
}

// Show prints recent observations, or recent alerts with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show observations")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}
	return a.showPrices(ctx, store, opts.Limit)
}

func (a *App) showPrices(ctx context.Context, store priceRowLister, limit int) error {
	rows, err := store.ListRecentPriceRows(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Scraped (UTC)\tRoute\tPrice NZD\tAirline\tZ\tConfidence\tSuspicious")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s-%s\t%s\t%s\t%s\t%s\t%t\n",
			row.ScrapedAt.UTC().Format(time.RFC3339),
			row.Origin,
			row.Destination,
			row.PriceNZD.StringFixed(2),
			row.Airline,
			formatNullable(row.ZScore, 2),
			formatNullable(row.Confidence, 4),
			row.IsSuspicious,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showAlerts(ctx context.Context, store alertLister, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered (UTC)\tRoute ID\tType\tPrice NZD\tZ\tMessage")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\n",
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			alert.RouteID,
			alert.AlertType,
			alert.PriceNZD.StringFixed(2),
			formatNullable(alert.ZScore, 2),
			sanitizeInline(alert.Message),
		)
	}

	writer.Flush()
	return nil
}

func formatNullable(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
