package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateOrigin      string
	simulateDestination string
	simulatePrice       float64
	simulateHistory     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-fare",
	Short: "Score one synthetic fare and trigger alerting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOrigin == "" || simulateDestination == "" {
			return errors.New("--origin and --destination must be provided")
		}
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}

		history, err := parseHistory(simulateHistory)
		if err != nil {
			return err
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateFare(cmd.Context(), simulateOrigin, simulateDestination, price, history)
	},
}

func parseHistory(raw string) ([]decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	history := make([]decimal.Decimal, 0, len(parts))
	for _, part := range parts {
		value, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid --history value %q: %w", part, err)
		}
		history = append(history, value)
	}
	return history, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOrigin, "origin", "", "Origin airport code")
	simulateCmd.Flags().StringVar(&simulateDestination, "destination", "", "Destination airport code")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "New fare in NZD")
	simulateCmd.Flags().StringVar(&simulateHistory, "history", "", "Comma-separated historical fares in NZD")
}
