package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"oracle-resolver/internal/app"
)

var (
	requestQuestion string
	requestAt       string
)

var requestCmd = &cobra.Command{
	Use:   "request MARKET_ID",
	Short: "Open an optimistic oracle request for a market",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTimestamp(requestAt)
		if err != nil {
			return fmt.Errorf("invalid --resolution-time value: %w", err)
		}
		return invoke(cmd, app.RequestResolution(args[0], requestQuestion, at))
	},
}

var proposeEvidence string

var proposeCmd = &cobra.Command{
	Use:   "propose MARKET_ID OUTCOME",
	Short: "Propose YES or NO for a requested market",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.ProposeOutcome(args[0], args[1], proposeEvidence))
	},
}

var disputeReason string

var disputeCmd = &cobra.Command{
	Use:   "dispute MARKET_ID",
	Short: "Dispute a proposal while its liveness runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.DisputeOutcome(args[0], disputeReason))
	},
}

var arbitrateCmd = &cobra.Command{
	Use:   "arbitrate MARKET_ID OUTCOME",
	Short: "Record the arbitration result of an escalated market",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.DeliverArbitration(args[0], args[1]))
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle MARKET_ID",
	Short: "Settle a market once its proposal or arbitration is final",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.Settle(args[0]))
	},
}

var (
	statusIdentifier string
	statusTimestamp  int64
)

var statusCmd = &cobra.Command{
	Use:   "status MARKET_ID",
	Short: "Show the oracle request of a market",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.RequestStatus(args[0], statusIdentifier, statusTimestamp))
	},
}

var oracleInfoCmd = &cobra.Command{
	Use:   "oracle-info",
	Short: "Print optimistic oracle metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, app.OracleInfo())
	},
}

func init() {
	requestCmd.Flags().StringVar(&requestQuestion, "question", "", "Question to resolve")
	requestCmd.Flags().StringVar(&requestAt, "resolution-time", "", "Resolution time (RFC3339 or unix seconds)")
	_ = requestCmd.MarkFlagRequired("question")
	_ = requestCmd.MarkFlagRequired("resolution-time")

	proposeCmd.Flags().StringVar(&proposeEvidence, "evidence", "", "Evidence supporting the proposal")
	disputeCmd.Flags().StringVar(&disputeReason, "reason", "", "Why the proposal is wrong")
	_ = disputeCmd.MarkFlagRequired("reason")

	statusCmd.Flags().StringVar(&statusIdentifier, "identifier", "", "Request identifier (defaults to the latest request)")
	statusCmd.Flags().Int64Var(&statusTimestamp, "timestamp", 0, "Request resolution timestamp (unix seconds)")
}

// parseTimestamp accepts RFC3339 or unix seconds.
func parseTimestamp(v string) (time.Time, error) {
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
