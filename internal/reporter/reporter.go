// Package reporter serializes an assembled report to its three output
// artifacts (summary.csv, anomalies.csv, report.json) and renders a short
// console summary. Writers receive io.Writers so callers control where the
// bytes go and when files are opened.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/internal/report"
	"order-reconciliation-etl/pkg/errors"
	"order-reconciliation-etl/pkg/logger"
)

// Reporter writes report artifacts.
type Reporter struct {
	logger logger.Logger
}

// NewReporter creates a Reporter.
func NewReporter() *Reporter {
	return &Reporter{
		logger: logger.GetGlobalLogger().WithComponent("reporter"),
	}
}

var summaryHeader = []string{
	"date", "order_count", "total_amount", "mean_amount", "stdev_amount",
	"refund_rate", "total_paid", "total_refunded", "net_revenue",
	"offhours_count", "weekend_count", "anomaly_count",
}

// WriteSummaryCSV writes the daily metric table.
func (r *Reporter) WriteSummaryCSV(w io.Writer, metrics []models.DailyMetric) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(summaryHeader); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to write summary header")
	}
	for i := range metrics {
		m := &metrics[i]
		record := []string{
			m.Date.Format(models.DateLayout),
			strconv.Itoa(m.OrderCount),
			m.TotalAmount.StringFixed(2),
			m.MeanAmount.StringFixed(2),
			strconv.FormatFloat(m.StdevAmount, 'f', 2, 64),
			strconv.FormatFloat(m.RefundRate, 'f', 4, 64),
			m.TotalPaid.StringFixed(2),
			m.TotalRefunded.StringFixed(2),
			m.NetRevenue.StringFixed(2),
			strconv.Itoa(m.OffHoursCount),
			strconv.Itoa(m.WeekendCount),
			strconv.Itoa(m.AnomalyCount),
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to write summary row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to flush summary")
	}
	return nil
}

var anomaliesHeader = []string{
	"date", "subject_id", "scope", "rule", "severity", "value", "threshold", "detail",
}

// WriteAnomaliesCSV writes the anomaly table. Dateless data-quality rows
// carry an empty date column.
func (r *Reporter) WriteAnomaliesCSV(w io.Writer, anomalies []models.Anomaly) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(anomaliesHeader); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to write anomalies header")
	}
	for i := range anomalies {
		a := &anomalies[i]
		date := ""
		if !a.Date.IsZero() {
			date = a.Date.Format(models.DateLayout)
		}
		record := []string{
			date,
			a.SubjectID,
			string(a.Scope),
			string(a.Rule),
			string(a.Severity),
			a.Value.String(),
			a.Threshold.String(),
			a.Detail,
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to write anomaly row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to flush anomalies")
	}
	return nil
}

// WriteJSON writes the full report as indented JSON.
func (r *Reporter) WriteJSON(w io.Writer, rep *report.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rep); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeOutputError, "failed to encode report JSON")
	}
	return nil
}

// WriteConsoleSummary renders a short human-readable digest of the run.
func (r *Reporter) WriteConsoleSummary(w io.Writer, rep *report.Report) error {
	var totalOrders int
	for i := range rep.DailyMetrics {
		totalOrders += rep.DailyMetrics[i].OrderCount
	}

	fmt.Fprintf(w, "Run %s\n", rep.Metadata.RunID)
	fmt.Fprintf(w, "Generated: %s\n", rep.Metadata.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Orders: %d across %d days\n", totalOrders, len(rep.DailyMetrics))
	fmt.Fprintf(w, "Dropped rows: %d, deduplicated: %d, orphans: %d, filtered: %d\n",
		sumCounts(rep.Metadata.Counts.RowsDropped),
		sumCounts(rep.Metadata.Counts.RowsDeduplicated),
		rep.Metadata.Counts.OrphanPayments+rep.Metadata.Counts.OrphanRefunds,
		rep.Metadata.Counts.FilteredOut)
	fmt.Fprintf(w, "Anomalies: %d\n", rep.Metadata.TotalAnomalies)

	if len(rep.Metadata.AnomalyCounts) > 0 {
		fmt.Fprintln(w, "By rule:")
		for _, rule := range sortedRules(rep.Metadata.AnomalyCounts) {
			fmt.Fprintf(w, "  %-16s %d\n", rule, rep.Metadata.AnomalyCounts[rule])
		}
	}
	return nil
}

func sumCounts(counts map[models.Source]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func sortedRules(counts map[models.Rule]int) []models.Rule {
	rules := make([]models.Rule, 0, len(counts))
	for rule := range counts {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i] < rules[j] })
	return rules
}
