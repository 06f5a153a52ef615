package pipeline

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/internal/report"
	"order-reconciliation-etl/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", name, err)
	}
	return path
}

// fixtureOptions builds Options over temp CSV fixtures with a pinned
// reference time so age-based rules are deterministic.
func fixtureOptions(t *testing.T, orders, payments, refunds string) Options {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OrdersPath = writeFile(t, dir, "orders.csv", orders)
	opts.PaymentsPath = writeFile(t, dir, "payments.csv", payments)
	opts.RefundsPath = writeFile(t, dir, "refunds.csv", refunds)
	opts.Detection.ReferenceTime = time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC)
	return opts
}

func run(t *testing.T, opts Options) *report.Report {
	t.Helper()
	p, err := NewPipeline(opts)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	rep, err := p.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return rep
}

func anomalyRules(rep *report.Report) map[models.Rule]int {
	counts := make(map[models.Rule]int)
	for _, a := range rep.Anomalies {
		counts[a.Rule]++
	}
	return counts
}

const cleanOrders = `order_id,order_ts,amount
ORD-1,15-01-2024 10:30,100.00
`

const cleanPayments = `order_id,payment_ts,payment_amount,payment_status,gateway
ORD-1,15-01-2024 10:35,100.00,SUCCESS,stripe
`

const noRefunds = `order_id,refund_ts,refund_amount
`

func TestRunCleanPaidOrder(t *testing.T) {
	rep := run(t, fixtureOptions(t, cleanOrders, cleanPayments, noRefunds))

	if rep.Metadata.TotalAnomalies != 0 {
		t.Errorf("Expected zero anomalies for a clean paid order, got %d: %v",
			rep.Metadata.TotalAnomalies, rep.Anomalies)
	}
	if len(rep.DailyMetrics) != 1 {
		t.Fatalf("Expected 1 day of metrics, got %d", len(rep.DailyMetrics))
	}
	m := rep.DailyMetrics[0]
	if m.OrderCount != 1 || m.TotalAmount.String() != "100" {
		t.Errorf("Unexpected metrics: count=%d total=%s", m.OrderCount, m.TotalAmount)
	}
	if rep.Metadata.Counts.UnifiedOrders != 1 {
		t.Errorf("Expected 1 unified order in metadata, got %d", rep.Metadata.Counts.UnifiedOrders)
	}
}

func TestRunExcessRefundNotClamped(t *testing.T) {
	refunds := `order_id,refund_ts,refund_amount
ORD-1,16-01-2024 09:00,150.00
`
	rep := run(t, fixtureOptions(t, cleanOrders, cleanPayments, refunds))

	var found *models.Anomaly
	for i := range rep.Anomalies {
		if rep.Anomalies[i].Rule == models.RuleExcessRefund {
			found = &rep.Anomalies[i]
		}
	}
	if found == nil {
		t.Fatal("Expected an excess_refund anomaly")
	}
	if found.Severity != models.SeverityHigh {
		t.Errorf("Expected high severity, got %s", found.Severity)
	}
	if found.Value.String() != "150" {
		t.Errorf("Expected raw refund value 150 in the anomaly, got %s", found.Value)
	}
	if rep.DailyMetrics[0].TotalRefunded.String() != "150" {
		t.Errorf("Expected unclamped refund total 150 in metrics, got %s", rep.DailyMetrics[0].TotalRefunded)
	}
}

func TestRunOrphanPayment(t *testing.T) {
	payments := cleanPayments + "ORD-999,15-01-2024 12:00,50.00,SUCCESS,stripe\n"

	rep := run(t, fixtureOptions(t, cleanOrders, payments, noRefunds))

	if anomalyRules(rep)[models.RuleOrphanPayment] != 1 {
		t.Errorf("Expected 1 orphan_payment anomaly, got %v", anomalyRules(rep))
	}
	if rep.Metadata.Counts.OrphanPayments != 1 {
		t.Errorf("Expected orphan count 1 in metadata, got %d", rep.Metadata.Counts.OrphanPayments)
	}
	// The orphan must not pollute the metrics of known orders.
	if rep.DailyMetrics[0].TotalPaid.String() != "100" {
		t.Errorf("Expected orphan payment excluded from totals, got %s", rep.DailyMetrics[0].TotalPaid)
	}
}

func TestRunIdempotent(t *testing.T) {
	orders := `order_id,order_ts,amount
ORD-1,15-01-2024 10:30,100.00
ORD-2,13-01-2024 23:30,250.00
`
	refunds := `order_id,refund_ts,refund_amount
ORD-2,14-01-2024 09:00,300.00
`
	opts := fixtureOptions(t, orders, cleanPayments, refunds)
	opts.WeekendEnabled = true

	first := run(t, opts)
	second := run(t, opts)

	if !reflect.DeepEqual(first.DailyMetrics, second.DailyMetrics) {
		t.Error("Expected identical metrics across runs over the same input")
	}
	if !reflect.DeepEqual(first.Anomalies, second.Anomalies) {
		t.Error("Expected identical anomalies across runs over the same input")
	}
}

func TestRunDateRangeInclusive(t *testing.T) {
	orders := `order_id,order_ts,amount
ORD-1,14-01-2024 10:00,100.00
ORD-2,15-01-2024 10:00,100.00
ORD-3,16-01-2024 10:00,100.00
`
	opts := fixtureOptions(t, orders, cleanPayments, noRefunds)
	opts.DateFrom = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	opts.DateTo = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

	rep := run(t, opts)

	if len(rep.DailyMetrics) != 1 || rep.DailyMetrics[0].Date.Day() != 15 {
		t.Fatalf("Expected only the 15th in metrics, got %v", rep.DailyMetrics)
	}
	if rep.Metadata.Counts.FilteredOut != 2 {
		t.Errorf("Expected 2 filtered orders in metadata, got %d", rep.Metadata.Counts.FilteredOut)
	}
}

func TestRunUniformDayNoOutliers(t *testing.T) {
	orders := `order_id,order_ts,amount
ORD-1,15-01-2024 09:00,100.00
ORD-2,15-01-2024 10:00,100.00
ORD-3,15-01-2024 11:00,100.00
`
	rep := run(t, fixtureOptions(t, orders, cleanPayments, noRefunds))

	if got := anomalyRules(rep)[models.RuleAmountOutlier]; got != 0 {
		t.Errorf("Expected no outliers on a uniform day, got %d", got)
	}
	if rep.DailyMetrics[0].StdevAmount != 0 {
		t.Errorf("Expected stdev 0 for identical amounts, got %f", rep.DailyMetrics[0].StdevAmount)
	}
}

func TestRunWrappingOffHoursWindow(t *testing.T) {
	orders := `order_id,order_ts,amount
ORD-NIGHT,15-01-2024 23:30,100.00
ORD-DAWN,16-01-2024 05:00,100.00
ORD-NOON,16-01-2024 12:00,100.00
`
	window, err := models.ParseOffHoursWindow("21:00-09:00")
	if err != nil {
		t.Fatalf("ParseOffHoursWindow failed: %v", err)
	}
	opts := fixtureOptions(t, orders, cleanPayments, noRefunds)
	opts.OffHours = window

	rep := run(t, opts)

	flagged := make(map[string]bool)
	for _, a := range rep.Anomalies {
		if a.Rule == models.RuleOffHours {
			flagged[a.SubjectID] = true
		}
	}
	if !flagged["ORD-NIGHT"] || !flagged["ORD-DAWN"] {
		t.Errorf("Expected both sides of the wrapped window flagged, got %v", flagged)
	}
	if flagged["ORD-NOON"] {
		t.Error("Expected noon order outside the window")
	}
}

func TestRunWeekendDisabledByDefault(t *testing.T) {
	orders := `order_id,order_ts,amount
ORD-1,13-01-2024 12:00,100.00
`
	payments := `order_id,payment_ts,payment_amount,payment_status,gateway
ORD-1,13-01-2024 12:05,100.00,SUCCESS,stripe
`

	rep := run(t, fixtureOptions(t, orders, payments, noRefunds))

	// Saturday order, weekend option not supplied.
	if got := anomalyRules(rep)[models.RuleWeekend]; got != 0 {
		t.Errorf("Expected no weekend_flag anomaly, got %d", got)
	}
	if rep.DailyMetrics[0].WeekendCount != 0 {
		t.Errorf("Expected weekend_count 0 without the weekend option, got %d", rep.DailyMetrics[0].WeekendCount)
	}

	opts := fixtureOptions(t, orders, payments, noRefunds)
	opts.WeekendEnabled = true
	rep = run(t, opts)

	if got := anomalyRules(rep)[models.RuleWeekend]; got != 1 {
		t.Errorf("Expected 1 weekend_flag anomaly when enabled, got %d", got)
	}
	if rep.DailyMetrics[0].WeekendCount != 1 {
		t.Errorf("Expected weekend_count 1 when enabled, got %d", rep.DailyMetrics[0].WeekendCount)
	}
}

func TestRunMalformedAndDuplicateRows(t *testing.T) {
	orders := `order_id,order_ts,amount
ORD-1,15-01-2024 10:30,100.00
ORD-2,not-a-date,50.00
ORD-1,15-01-2024 11:00,120.00
`
	rep := run(t, fixtureOptions(t, orders, cleanPayments, noRefunds))

	rules := anomalyRules(rep)
	if rules[models.RuleMalformedRow] != 1 {
		t.Errorf("Expected 1 malformed_row anomaly, got %v", rules)
	}
	if rules[models.RuleDuplicateRow] != 1 {
		t.Errorf("Expected 1 duplicate_row anomaly, got %v", rules)
	}
	if rep.Metadata.Counts.RowsDropped[models.SourceOrders] != 1 {
		t.Errorf("Expected 1 dropped row in metadata, got %v", rep.Metadata.Counts.RowsDropped)
	}
	// Last occurrence of ORD-1 wins.
	if rep.DailyMetrics[0].TotalAmount.String() != "120" {
		t.Errorf("Expected total 120 after dedup, got %s", rep.DailyMetrics[0].TotalAmount)
	}
	// ORD-1 paid 100 against the winning 120 row: underpaid, not overpaid.
	if rules[models.RuleOverpayment] != 0 {
		t.Errorf("Expected no overpayment, got %v", rules)
	}
	if rules[models.RulePaymentMismatch] != 1 {
		t.Errorf("Expected 1 payment_mismatch anomaly, got %v", rules)
	}
}

func TestRunIntegrityViolationAborts(t *testing.T) {
	orders := `order_id,order_ts,amount
ord-1,15-01-2024 10:30,100.00
ORD-1,15-01-2024 11:00,120.00
`
	p, err := NewPipeline(fixtureOptions(t, orders, cleanPayments, noRefunds))
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	rep, err := p.Run()
	if err == nil {
		t.Fatal("Expected an integrity error for colliding identifiers")
	}
	if rep != nil {
		t.Error("Expected no partial report on fatal failure")
	}
	pipelineErr, ok := errors.AsPipelineError(err)
	if !ok || pipelineErr.Code != errors.CodeKeyCollision {
		t.Errorf("Expected key_collision, got %v", err)
	}
}

func TestRunMissingFile(t *testing.T) {
	opts := fixtureOptions(t, cleanOrders, cleanPayments, noRefunds)
	opts.RefundsPath = filepath.Join(t.TempDir(), "missing.csv")

	p, err := NewPipeline(opts)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	_, err = p.Run()
	pipelineErr, ok := errors.AsPipelineError(err)
	if !ok || pipelineErr.Code != errors.CodeFileNotFound {
		t.Errorf("Expected file_not_found, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	valid := DefaultOptions()
	valid.OrdersPath, valid.PaymentsPath, valid.RefundsPath = "o.csv", "p.csv", "r.csv"

	t.Run("valid", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Errorf("Expected valid options, got %v", err)
		}
	})

	t.Run("missing input path", func(t *testing.T) {
		opts := valid
		opts.PaymentsPath = ""
		if err := opts.Validate(); err == nil {
			t.Error("Expected error for missing input path")
		}
	})

	t.Run("inverted date range", func(t *testing.T) {
		opts := valid
		opts.DateFrom = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
		opts.DateTo = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		err := opts.Validate()
		pipelineErr, ok := errors.AsPipelineError(err)
		if !ok || pipelineErr.Code != errors.CodeInvalidDateRange {
			t.Errorf("Expected invalid_date_range, got %v", err)
		}
	})

	t.Run("bad threshold", func(t *testing.T) {
		opts := valid
		opts.Detection.OutlierSigma = -1
		if err := opts.Validate(); err == nil {
			t.Error("Expected error for negative sigma")
		}
	})
}
