package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/classify"
	"github.com/boddenberg/fatura-engine/internal/config"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/ingest"
	"github.com/boddenberg/fatura-engine/internal/invoice"
	"github.com/boddenberg/fatura-engine/internal/latecharge"
)

// buildInput mirrors the body of POST /v1/invoices/build.
type buildInput struct {
	Card           *domain.Card             `json:"card"`
	Transactions   []domain.Transaction     `json:"transactions"`
	CardID         string                   `json:"cardId"`
	ForecastMonths int                      `json:"forecastMonths"`
	AsOf           string                   `json:"asOf"`
	Recurring      []domain.RecurringCharge `json:"recurring"`
}

type buildOptions struct {
	input    string
	asOf     string
	forecast int
	rules    string
	holidays string
	audit    bool
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build closed, current and forecast invoices from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "request JSON file, - for stdin")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "evaluation date (YYYY-MM-DD), overrides the file")
	cmd.Flags().IntVar(&opts.forecast, "forecast", 0, "forecast months, overrides the file (0 for none)")
	cmd.Flags().StringVar(&opts.rules, "rules", "", "YAML classification rule pack")
	cmd.Flags().StringVar(&opts.holidays, "holidays", "", "YAML holiday table")
	cmd.Flags().BoolVar(&opts.audit, "audit", false, "log the audit trail to stderr")
	return cmd
}

func runBuild(cmd *cobra.Command, root *rootOptions, opts *buildOptions) error {
	data, err := readInput(cmd.InOrStdin(), opts.input)
	if err != nil {
		return err
	}

	var in buildInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to decode %s: %w", opts.input, err)
	}

	asOf := in.AsOf
	if opts.asOf != "" {
		asOf = opts.asOf
	}
	day, ok := ingest.ParseDate(asOf)
	if !ok {
		return fmt.Errorf("invalid or missing as-of date %q", asOf)
	}
	forecast := in.ForecastMonths
	if cmd.Flags().Changed("forecast") {
		forecast = opts.forecast
		if forecast == 0 {
			forecast = invoice.NoForecast
		}
	}

	builderOpts, err := engineOptions(root.logger, opts)
	if err != nil {
		return err
	}

	res, err := invoice.NewBuilder(builderOpts...).BuildInvoices(cmd.Context(), invoice.Request{
		Card:           in.Card,
		Transactions:   in.Transactions,
		CardID:         in.CardID,
		ForecastMonths: forecast,
		AsOf:           day,
		Recurring:      in.Recurring,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// engineOptions wires the same builder settings the server reads from the
// environment, with flag overrides for the rule pack and holiday table.
func engineOptions(logger *zap.Logger, opts *buildOptions) ([]invoice.Option, error) {
	cfg := config.Load()

	holidaysFile := cfg.HolidaysFile
	if opts.holidays != "" {
		holidaysFile = opts.holidays
	}
	rulesFile := cfg.RulesFile
	if opts.rules != "" {
		rulesFile = opts.rules
	}

	out := []invoice.Option{
		invoice.WithLateCharges(latecharge.NewCalculator(latecharge.Rates{
			LateFee:   cfg.LateFeeRate,
			Mora:      cfg.MoraRate,
			Revolving: cfg.RevolvingRate,
		})),
		invoice.WithForecastMonths(cfg.ForecastMonths),
		invoice.WithClosingDateToNextCycle(cfg.ClosingDateToNextCycle),
		invoice.WithCarryOverUnpaid(cfg.CarryOverUnpaid),
	}

	if holidaysFile != "" {
		holidays, err := calendar.LoadHolidays(holidaysFile)
		if err != nil {
			return nil, err
		}
		out = append(out, invoice.WithCalendar(calendar.New(holidays...)))
	}
	if rulesFile != "" {
		rules, err := classify.LoadRules(rulesFile)
		if err != nil {
			return nil, err
		}
		out = append(out, invoice.WithClassifier(classify.New(rules)))
	}
	if opts.audit && logger != nil {
		out = append(out, invoice.WithAuditSink(audit.NewZapSink(logger)))
	}
	return out, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}
