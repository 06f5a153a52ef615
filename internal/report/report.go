// Package report assembles the final run report: metadata describing the
// run, the daily metric table with anomaly counts stitched in, and the full
// anomaly list. The report is the single structured output of a pipeline
// run; writers serialize it verbatim.
package report

import (
	"time"

	"github.com/google/uuid"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/pkg/logger"
)

// InputFile records one input extract and how many rows survived parsing.
type InputFile struct {
	Path     string `json:"path"`
	RowsRead int    `json:"rows_read"`
}

// Filters echoes the reporting window and temporal rule settings that were
// in effect, so a report is self-describing.
type Filters struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	OffHours string `json:"offhours_window,omitempty"`
	Weekend  bool   `json:"weekend_rule"`
}

// Counts summarizes what happened to rows on their way through the run.
type Counts struct {
	RowsDropped      map[models.Source]int `json:"rows_dropped,omitempty"`
	RowsDeduplicated map[models.Source]int `json:"rows_deduplicated,omitempty"`
	OrphanPayments   int                   `json:"orphan_payments"`
	OrphanRefunds    int                   `json:"orphan_refunds"`
	FilteredOut      int                   `json:"filtered_out"`
	UnifiedOrders    int                   `json:"unified_orders"`
}

// Metadata identifies and describes one run.
type Metadata struct {
	RunID          string               `json:"run_id"`
	GeneratedAt    time.Time            `json:"generated_at"`
	Inputs         map[string]InputFile `json:"inputs"`
	Filters        Filters              `json:"filters"`
	Counts         Counts               `json:"counts"`
	AnomalyCounts  map[models.Rule]int  `json:"anomaly_counts,omitempty"`
	TotalAnomalies int                  `json:"total_anomalies"`
}

// Report is the complete structured output of a run.
type Report struct {
	Metadata     Metadata             `json:"metadata"`
	DailyMetrics []models.DailyMetric `json:"daily_metrics"`
	Anomalies    []models.Anomaly     `json:"anomalies"`
}

// Params carries everything the assembler needs from the pipeline stages.
type Params struct {
	Inputs       map[string]InputFile
	Filters      Filters
	Counts       Counts
	DailyMetrics []models.DailyMetric
	Anomalies    []models.Anomaly
}

// Assembler builds reports. The clock and id source are injectable so tests
// can pin them.
type Assembler struct {
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

// NewAssembler creates an Assembler with the real clock and random run ids.
func NewAssembler() *Assembler {
	return &Assembler{
		logger: logger.GetGlobalLogger().WithComponent("report"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// NewAssemblerWithClock creates an Assembler with a fixed clock and id
// source for deterministic output.
func NewAssemblerWithClock(now func() time.Time, newID func() string) *Assembler {
	a := NewAssembler()
	a.now = now
	a.newID = newID
	return a
}

// Assemble builds the report. It stitches per-day anomaly counts into the
// metric rows: an anomaly contributes to the day its date names, and
// dateless data-quality anomalies count only in the totals.
func (a *Assembler) Assemble(params Params) *Report {
	byDay := make(map[time.Time]int)
	byRule := make(map[models.Rule]int)
	for _, anomaly := range params.Anomalies {
		byRule[anomaly.Rule]++
		if !anomaly.Date.IsZero() {
			byDay[anomaly.Date]++
		}
	}

	metrics := make([]models.DailyMetric, len(params.DailyMetrics))
	copy(metrics, params.DailyMetrics)
	for i := range metrics {
		metrics[i].AnomalyCount = byDay[metrics[i].Date]
	}

	r := &Report{
		Metadata: Metadata{
			RunID:          a.newID(),
			GeneratedAt:    a.now(),
			Inputs:         params.Inputs,
			Filters:        params.Filters,
			Counts:         params.Counts,
			AnomalyCounts:  byRule,
			TotalAnomalies: len(params.Anomalies),
		},
		DailyMetrics: metrics,
		Anomalies:    params.Anomalies,
	}

	a.logger.WithFields(logger.Fields{
		"run_id":    r.Metadata.RunID,
		"days":      len(r.DailyMetrics),
		"anomalies": r.Metadata.TotalAnomalies,
	}).Info("Report assembled")

	return r
}
