// Package pipeline orchestrates a full batch run: parse the three extracts,
// normalize rows into typed records, reconcile them into unified orders,
// aggregate per day, detect anomalies, and assemble the report. Stages run
// sequentially over transient in-memory data; nothing is shared across runs.
package pipeline

import (
	"fmt"
	"time"

	"order-reconciliation-etl/internal/aggregate"
	"order-reconciliation-etl/internal/detect"
	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/internal/normalize"
	"order-reconciliation-etl/internal/parsers"
	"order-reconciliation-etl/internal/reconcile"
	"order-reconciliation-etl/internal/report"
	"order-reconciliation-etl/pkg/errors"
	"order-reconciliation-etl/pkg/logger"
)

// Options configures one run.
type Options struct {
	OrdersPath   string
	PaymentsPath string
	RefundsPath  string

	// DateFrom and DateTo bound the reporting window inclusively. Zero
	// values leave the corresponding side unbounded.
	DateFrom time.Time
	DateTo   time.Time

	// OffHours enables the off-hours flag and rule. Nil disables both.
	OffHours *models.OffHoursWindow

	// WeekendEnabled turns weekend flags into anomalies.
	WeekendEnabled bool

	// Detection carries rule thresholds and the reference time.
	Detection detect.Config
}

// DefaultOptions returns Options with the documented detection defaults.
func DefaultOptions() Options {
	return Options{Detection: detect.DefaultConfig()}
}

// Validate rejects inconsistent options before any file is touched.
func (o *Options) Validate() error {
	if o.OrdersPath == "" || o.PaymentsPath == "" || o.RefundsPath == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "input_paths",
			"orders, payments and refunds files are all required", nil)
	}
	if !o.DateFrom.IsZero() && !o.DateTo.IsZero() && o.DateFrom.After(o.DateTo) {
		return errors.ConfigurationError(errors.CodeInvalidDateRange, "date_range",
			fmt.Sprintf("%s > %s", o.DateFrom.Format(models.DateLayout), o.DateTo.Format(models.DateLayout)), nil)
	}
	return o.Detection.Validate()
}

// Pipeline runs the batch job.
type Pipeline struct {
	options   Options
	assembler *report.Assembler
	logger    logger.Logger
}

// NewPipeline validates the options and builds a Pipeline.
func NewPipeline(options Options) (*Pipeline, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	// The temporal rules fire only when their flag source is configured.
	options.Detection.OffHoursEnabled = options.OffHours != nil
	options.Detection.WeekendEnabled = options.WeekendEnabled

	return &Pipeline{
		options:   options,
		assembler: report.NewAssembler(),
		logger:    logger.GetGlobalLogger().WithComponent("pipeline"),
	}, nil
}

// NewPipelineWithAssembler is NewPipeline with an injected assembler, used
// to pin the run id and clock in tests.
func NewPipelineWithAssembler(options Options, assembler *report.Assembler) (*Pipeline, error) {
	p, err := NewPipeline(options)
	if err != nil {
		return nil, err
	}
	p.assembler = assembler
	return p, nil
}

// Run executes the full pipeline and returns the assembled report. On any
// fatal error the report is nil; no partial results escape.
func (p *Pipeline) Run() (*report.Report, error) {
	inputs := make(map[string]report.InputFile)

	stage := logger.NewStageLogger("parse", p.logger)
	ordersRaw, err := p.parseSource(parsers.OrdersConfig(), p.options.OrdersPath, inputs)
	if err != nil {
		stage.Failed(err, "Failed to read orders extract")
		return nil, err
	}
	paymentsRaw, err := p.parseSource(parsers.PaymentsConfig(), p.options.PaymentsPath, inputs)
	if err != nil {
		stage.Failed(err, "Failed to read payments extract")
		return nil, err
	}
	refundsRaw, err := p.parseSource(parsers.RefundsConfig(), p.options.RefundsPath, inputs)
	if err != nil {
		stage.Failed(err, "Failed to read refunds extract")
		return nil, err
	}
	stage.Done("Input extracts read")

	stage = logger.NewStageLogger("normalize", p.logger)
	normalized, err := normalize.NewNormalizer().Normalize(ordersRaw, paymentsRaw, refundsRaw)
	if err != nil {
		stage.Failed(err, "Normalization aborted")
		return nil, err
	}
	stage.WithField("orders", len(normalized.Orders)).Done("Rows normalized")

	stage = logger.NewStageLogger("reconcile", p.logger)
	reconciled := reconcile.NewReconciler(reconcile.Config{
		DateFrom: p.options.DateFrom,
		DateTo:   p.options.DateTo,
		OffHours: p.options.OffHours,
		Weekend:  p.options.WeekendEnabled,
	}).Reconcile(normalized.Orders, normalized.Payments, normalized.Refunds)
	stage.WithField("unified_orders", len(reconciled.Orders)).Done("Orders reconciled")

	stage = logger.NewStageLogger("aggregate", p.logger)
	metrics := aggregate.NewDailyAggregator().Aggregate(reconciled.Orders)
	stage.WithField("days", len(metrics)).Done("Daily metrics computed")

	stage = logger.NewStageLogger("detect", p.logger)
	anomalies := detect.NewEngine(p.options.Detection).Detect(reconciled.Orders)
	anomalies = append(anomalies, normalized.Anomalies...)
	anomalies = append(anomalies, reconciled.Anomalies...)
	detect.SortAnomalies(anomalies)
	stage.WithField("anomalies", len(anomalies)).Done("Anomaly detection finished")

	rep := p.assembler.Assemble(report.Params{
		Inputs:  inputs,
		Filters: p.filters(),
		Counts: report.Counts{
			RowsDropped:      normalized.RowsDropped,
			RowsDeduplicated: normalized.RowsDeduplicated,
			OrphanPayments:   reconciled.OrphanPayments,
			OrphanRefunds:    reconciled.OrphanRefunds,
			FilteredOut:      reconciled.FilteredOut,
			UnifiedOrders:    len(reconciled.Orders),
		},
		DailyMetrics: metrics,
		Anomalies:    anomalies,
	})

	return rep, nil
}

func (p *Pipeline) parseSource(config *parsers.SourceConfig, path string, inputs map[string]report.InputFile) ([]models.RawRow, error) {
	parser, err := parsers.NewRowParser(config)
	if err != nil {
		return nil, err
	}
	rows, stats, err := parser.ParseRows(path)
	if err != nil {
		return nil, err
	}
	if stats.HasErrors() {
		p.logger.WithFields(logger.Fields{
			"source": config.Source,
			"errors": stats.SampleErrors(5),
		}).Warn("Some input lines could not be read")
	}
	inputs[string(config.Source)] = report.InputFile{Path: path, RowsRead: stats.RowsRead}
	return rows, nil
}

func (p *Pipeline) filters() report.Filters {
	f := report.Filters{Weekend: p.options.WeekendEnabled}
	if !p.options.DateFrom.IsZero() {
		f.DateFrom = p.options.DateFrom.Format(models.DateLayout)
	}
	if !p.options.DateTo.IsZero() {
		f.DateTo = p.options.DateTo.Format(models.DateLayout)
	}
	if p.options.OffHours != nil {
		f.OffHours = p.options.OffHours.String()
	}
	return f
}
