package cli

import (
	"github.com/spf13/cobra"

	"farewatch/internal/app"
)

var (
	rescoreRouteID int64
	rescoreDryRun  bool
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute anomaly fields over stored observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RescoreOptions{
			RouteID: rescoreRouteID,
			DryRun:  rescoreDryRun,
		}
		return getApp().Rescore(cmd.Context(), opts)
	},
}

func init() {
	rescoreCmd.Flags().Int64Var(&rescoreRouteID, "route", 0, "Restrict to one route id (default: all active routes)")
	rescoreCmd.Flags().BoolVar(&rescoreDryRun, "dry-run", false, "Run without writing to storage")
}
