package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"order-reconciliation-etl/cmd/orderetl/config"
	"order-reconciliation-etl/internal/pipeline"
	"order-reconciliation-etl/internal/report"
	"order-reconciliation-etl/internal/reporter"
	"order-reconciliation-etl/pkg/errors"
)

// Flags for the run command
var (
	ordersFile   string
	paymentsFile string
	refundsFile  string
	outputDir    string

	dateFrom       string
	dateTo         string
	offHoursWindow string
	weekendRule    bool

	outlierSigma     float64
	highSigma        float64
	staleDays        int
	lateRefundDays   int
	overpayTolerance float64
)

// Output file names inside the output directory.
const (
	summaryFileName   = "summary.csv"
	anomaliesFileName = "anomalies.csv"
	reportFileName    = "report.json"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation and anomaly detection pipeline",
	Long: `Run ingests the three input extracts, reconciles orders with payments
and refunds, computes daily metrics, detects anomalies, and writes
summary.csv, anomalies.csv, and report.json into the output directory.

This command requires:
- An orders extract (CSV format)
- A payments extract (CSV format)
- A refunds extract (CSV format)

Examples:
  # Basic run
  orderetl run --orders orders.csv --payments payments.csv --refunds refunds.csv

  # Bounded reporting window with temporal rules enabled
  orderetl run --orders o.csv --payments p.csv --refunds r.csv \
    --date-from 2024-01-01 --date-to 2024-01-31 \
    --offhours 22:00-06:00 --weekend

  # Custom thresholds
  orderetl run --orders o.csv --payments p.csv --refunds r.csv \
    --outlier-sigma 2.5 --stale-days 14 --outdir reports`,

	PreRunE: validateRunFlags,
	RunE:    runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Required flags
	runCmd.Flags().StringVar(&ordersFile, "orders", "", "path to orders CSV extract (required)")
	runCmd.Flags().StringVar(&paymentsFile, "payments", "", "path to payments CSV extract (required)")
	runCmd.Flags().StringVar(&refundsFile, "refunds", "", "path to refunds CSV extract (required)")

	// Output flags
	runCmd.Flags().StringVarP(&outputDir, "outdir", "o", "outputs", "directory for output artifacts")

	// Reporting window and temporal rules
	runCmd.Flags().StringVar(&dateFrom, "date-from", "", "inclusive start of the reporting window (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&dateTo, "date-to", "", "inclusive end of the reporting window (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&offHoursWindow, "offhours", "", "off-hours window HH:MM-HH:MM, may wrap midnight (e.g. 22:00-06:00)")
	runCmd.Flags().BoolVar(&weekendRule, "weekend", false, "flag weekend orders as anomalies")

	// Detection thresholds
	runCmd.Flags().Float64Var(&outlierSigma, "outlier-sigma", 3, "deviation multiple for statistical outliers")
	runCmd.Flags().Float64Var(&highSigma, "high-sigma", 5, "deviation multiple for high-severity outliers")
	runCmd.Flags().IntVar(&staleDays, "stale-days", 30, "age in days before an unpaid order is stale")
	runCmd.Flags().IntVar(&lateRefundDays, "late-refund-days", 7, "delay in days before a refund is late")
	runCmd.Flags().Float64Var(&overpayTolerance, "overpay-tolerance", 0.01, "tolerance absorbed before overpayment fires")

	runCmd.MarkFlagRequired("orders")
	runCmd.MarkFlagRequired("payments")
	runCmd.MarkFlagRequired("refunds")

	// Bind flags to viper
	viper.BindPFlag("orders", runCmd.Flags().Lookup("orders"))
	viper.BindPFlag("payments", runCmd.Flags().Lookup("payments"))
	viper.BindPFlag("refunds", runCmd.Flags().Lookup("refunds"))
	viper.BindPFlag("outdir", runCmd.Flags().Lookup("outdir"))
	viper.BindPFlag("date-from", runCmd.Flags().Lookup("date-from"))
	viper.BindPFlag("date-to", runCmd.Flags().Lookup("date-to"))
	viper.BindPFlag("offhours", runCmd.Flags().Lookup("offhours"))
	viper.BindPFlag("weekend", runCmd.Flags().Lookup("weekend"))
	viper.BindPFlag("outlier-sigma", runCmd.Flags().Lookup("outlier-sigma"))
	viper.BindPFlag("high-sigma", runCmd.Flags().Lookup("high-sigma"))
	viper.BindPFlag("stale-days", runCmd.Flags().Lookup("stale-days"))
	viper.BindPFlag("late-refund-days", runCmd.Flags().Lookup("late-refund-days"))
	viper.BindPFlag("overpay-tolerance", runCmd.Flags().Lookup("overpay-tolerance"))
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	// Viper values allow overrides from the config file and environment.
	ordersFile = viper.GetString("orders")
	paymentsFile = viper.GetString("payments")
	refundsFile = viper.GetString("refunds")
	outputDir = viper.GetString("outdir")
	dateFrom = viper.GetString("date-from")
	dateTo = viper.GetString("date-to")
	offHoursWindow = viper.GetString("offhours")
	weekendRule = viper.GetBool("weekend")
	outlierSigma = viper.GetFloat64("outlier-sigma")
	highSigma = viper.GetFloat64("high-sigma")
	staleDays = viper.GetInt("stale-days")
	lateRefundDays = viper.GetInt("late-refund-days")
	overpayTolerance = viper.GetFloat64("overpay-tolerance")

	_, err := config.BuildOptions(currentSettings())
	return err
}

func currentSettings() config.RunSettings {
	return config.RunSettings{
		OrdersFile:       ordersFile,
		PaymentsFile:     paymentsFile,
		RefundsFile:      refundsFile,
		OutputDir:        outputDir,
		DateFrom:         dateFrom,
		DateTo:           dateTo,
		OffHours:         offHoursWindow,
		Weekend:          weekendRule,
		OutlierSigma:     outlierSigma,
		HighSigma:        highSigma,
		StaleDays:        staleDays,
		LateRefundDays:   lateRefundDays,
		OverpayTolerance: overpayTolerance,
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	// Cobra's usage text is noise for runtime failures; flag validation has
	// already passed by this point.
	cmd.SilenceUsage = true

	options, err := config.BuildOptions(currentSettings())
	if err != nil {
		return err
	}

	p, err := pipeline.NewPipeline(options)
	if err != nil {
		return err
	}
	rep, err := p.Run()
	if err != nil {
		return err
	}

	// Outputs are created only after the pipeline has fully succeeded, so a
	// fatal failure never leaves partial artifacts behind.
	if err := writeArtifacts(outputDir, rep); err != nil {
		return err
	}

	return reporter.NewReporter().WriteConsoleSummary(cmd.OutOrStdout(), rep)
}

func writeArtifacts(dir string, rep *report.Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.FileError(errors.CodeOutputError, dir, err)
	}

	r := reporter.NewReporter()
	writers := []struct {
		name  string
		write func(f *os.File) error
	}{
		{summaryFileName, func(f *os.File) error { return r.WriteSummaryCSV(f, rep.DailyMetrics) }},
		{anomaliesFileName, func(f *os.File) error { return r.WriteAnomaliesCSV(f, rep.Anomalies) }},
		{reportFileName, func(f *os.File) error { return r.WriteJSON(f, rep) }},
	}

	for _, w := range writers {
		path := filepath.Join(dir, w.name)
		if err := writeFile(path, w.write); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "Outputs written to %s\n", dir)
	return nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeOutputError, path, err)
	}
	defer f.Close()

	if err := write(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return errors.FileError(errors.CodeOutputError, path, err)
	}
	return nil
}
