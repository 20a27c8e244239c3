package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"oracle-resolver/internal/app"
)

var priceCmd = &cobra.Command{
	Use:   "price SYMBOL",
	Short: "Read the latest feed price, e.g. ETH/USD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.GetPrice(args[0]))
	},
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List supported price feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.ListFeeds())
	},
}

var (
	validateTarget     string
	validateComparison string
)

var validateCmd = &cobra.Command{
	Use:   "validate SYMBOL",
	Short: "Evaluate a price condition against a fresh feed price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.ValidatePrice(args[0], validateTarget, validateComparison))
	},
}

var (
	boundsMin string
	boundsMax string
)

var boundsCmd = &cobra.Command{
	Use:   "bounds SYMBOL",
	Short: "Check whether a fresh feed price lies within [min, max]",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.CheckBounds(args[0], boundsMin, boundsMax))
	},
}

var (
	resolveParams app.ResolveParams
	resolveAt     string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve MARKET_ID",
	Short: "Resolve a market through the oracle gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := resolveParams
		params.MarketID = args[0]
		if resolveAt != "" {
			at, err := parseTimestamp(resolveAt)
			if err != nil {
				return fmt.Errorf("invalid --resolution-time value: %w", err)
			}
			params.ResolutionTime = &at
		}
		return invoke(cmd, app.Resolve(params))
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateTarget, "target", "", "Target price")
	validateCmd.Flags().StringVar(&validateComparison, "comparison", "ABOVE", "ABOVE or BELOW")
	_ = validateCmd.MarkFlagRequired("target")

	boundsCmd.Flags().StringVar(&boundsMin, "min", "", "Lower bound (inclusive)")
	boundsCmd.Flags().StringVar(&boundsMax, "max", "", "Upper bound (inclusive)")
	_ = boundsCmd.MarkFlagRequired("min")
	_ = boundsCmd.MarkFlagRequired("max")

	resolveCmd.Flags().StringVar(&resolveParams.OracleType, "type", "PRICE_FEED", "Oracle type: PRICE_FEED or OPTIMISTIC")
	resolveCmd.Flags().StringVar(&resolveParams.Symbol, "symbol", "", "Feed symbol for PRICE_FEED")
	resolveCmd.Flags().StringVar(&resolveParams.TargetPrice, "target", "", "Target price for PRICE_FEED")
	resolveCmd.Flags().StringVar(&resolveParams.Comparison, "comparison", "", "ABOVE or BELOW for PRICE_FEED")
	resolveCmd.Flags().StringVar(&resolveAt, "resolution-time", "", "Earliest resolution time (RFC3339 or unix seconds)")
}
