package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/config"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
)

type rootOptions struct {
	envFile  string
	logLevel string
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "invoicectl",
		Short: "Compute credit card invoices offline",
		Long: `invoicectl runs the invoice engine over a JSON export of a card
and its transactions, and prints the result as JSON.

Example:
  invoicectl build --input card.json --as-of 2026-01-15 --forecast 6
  invoicectl late-charges --amount 1500.00 --due 2026-01-20 --as-of 2026-02-01`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = config.LoadDotEnv(opts.envFile)
			opts.logger = observability.NewLogger(opts.logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with engine settings")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newBuildCmd(opts))
	cmd.AddCommand(newLateChargesCmd(opts))
	return cmd
}
