package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"oracle-resolver/internal/app"
	"oracle-resolver/internal/config"
	"oracle-resolver/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:          "oracle-resolver",
	Short:        "Resolve prediction markets from price feeds or an optimistic oracle",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appHandle != nil {
			appHandle.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// The envelope on stdout already describes reported failures.
		if !errors.Is(err, app.ErrReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(boundsCmd)
	rootCmd.AddCommand(resolveCmd)

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(disputeCmd)
	rootCmd.AddCommand(arbitrateCmd)
	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(oracleInfoCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

func invoke(cmd *cobra.Command, op app.OperationFunc) error {
	return getApp().Invoke(cmd.Context(), cmd.OutOrStdout(), cmd.Name(), op)
}
