package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boddenberg/fatura-engine/internal/config"
	"github.com/boddenberg/fatura-engine/internal/ingest"
	"github.com/boddenberg/fatura-engine/internal/latecharge"
	"github.com/boddenberg/fatura-engine/internal/money"
)

type lateChargesOptions struct {
	amount string
	due    string
	asOf   string
}

func newLateChargesCmd(root *rootOptions) *cobra.Command {
	opts := &lateChargesOptions{}

	cmd := &cobra.Command{
		Use:   "late-charges",
		Short: "Price paying an invoice amount after its due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, ok := money.ParseAmount(opts.amount).Cents()
			if !ok {
				return fmt.Errorf("invalid amount %q", opts.amount)
			}
			due, ok := ingest.ParseDate(opts.due)
			if !ok {
				return fmt.Errorf("invalid due date %q", opts.due)
			}
			asOf, ok := ingest.ParseDate(opts.asOf)
			if !ok {
				return fmt.Errorf("invalid as-of date %q", opts.asOf)
			}

			cfg := config.Load()
			calc := latecharge.NewCalculator(latecharge.Rates{
				LateFee:   cfg.LateFeeRate,
				Mora:      cfg.MoraRate,
				Revolving: cfg.RevolvingRate,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(calc.CalculateCents(amount, due, asOf))
		},
	}

	cmd.Flags().StringVar(&opts.amount, "amount", "", "outstanding amount, e.g. 1500.00")
	cmd.Flags().StringVar(&opts.due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "payment date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("due")
	_ = cmd.MarkFlagRequired("as-of")
	return cmd
}
