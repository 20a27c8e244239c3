package cli

import (
	"context"

	"github.com/spf13/cobra"

	"oracle-resolver/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "在内存中模拟一次乐观预言机流程并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		return a.Respond(cmd.Context(), cmd.OutOrStdout(), cmd.Name(), func(ctx context.Context) (any, error) {
			return a.Simulate(ctx, simulateOpts)
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.MarketID, "market", "sim-market", "市场 ID")
	simulateCmd.Flags().StringVar(&simulateOpts.Question, "question", "Will ETH close above $5000?", "问题描述")
	simulateCmd.Flags().StringVar(&simulateOpts.Outcome, "outcome", "yes", "提议结果 (yes/no)")
	simulateCmd.Flags().BoolVar(&simulateOpts.Dispute, "dispute", false, "对提议发起争议并走仲裁")
	simulateCmd.Flags().StringVar(&simulateOpts.Arbitration, "arbitration", "no", "仲裁结果 (yes/no)")
}
