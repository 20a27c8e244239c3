package cli

import (
	"github.com/spf13/cobra"

	"oracle-resolver/internal/app"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one settlement pass over open requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		return invoke(cmd, a.Sweep(app.SweepOptions{DryRun: sweepDryRun}))
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Report settleable markets without settling them")
}
