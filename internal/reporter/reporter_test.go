package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/internal/report"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleMetrics() []models.DailyMetric {
	return []models.DailyMetric{
		{
			Date:          time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
			OrderCount:    3,
			TotalAmount:   dec("450.00"),
			MeanAmount:    dec("150.00"),
			StdevAmount:   50.0,
			RefundRate:    0.1,
			TotalPaid:     dec("450.00"),
			TotalRefunded: dec("45.00"),
			NetRevenue:    dec("405.00"),
			AnomalyCount:  1,
		},
	}
}

func sampleAnomalies() []models.Anomaly {
	return []models.Anomaly{
		{
			SubjectID: "ORD-1",
			Scope:     models.ScopeOrder,
			Rule:      models.RuleExcessRefund,
			Severity:  models.SeverityHigh,
			Date:      time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
			Detail:    "refunded 150 against order amount 100",
			Value:     dec("150"),
			Threshold: dec("100"),
		},
		{
			SubjectID: "orders:line:4",
			Scope:     models.ScopeOrder,
			Rule:      models.RuleMalformedRow,
			Severity:  models.SeverityLow,
			Detail:    "orders row at line 4 dropped",
		},
	}
}

func TestWriteSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReporter().WriteSummaryCSV(&buf, sampleMetrics()); err != nil {
		t.Fatalf("WriteSummaryCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected header + 1 row, got %d records", len(records))
	}
	if records[0][0] != "date" || records[0][len(records[0])-1] != "anomaly_count" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	row := records[1]
	if row[0] != "2024-01-15" {
		t.Errorf("Expected date 2024-01-15, got %s", row[0])
	}
	if row[2] != "450.00" {
		t.Errorf("Expected total_amount 450.00, got %s", row[2])
	}
	if row[5] != "0.1000" {
		t.Errorf("Expected refund_rate 0.1000, got %s", row[5])
	}
}

func TestWriteAnomaliesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReporter().WriteAnomaliesCSV(&buf, sampleAnomalies()); err != nil {
		t.Fatalf("WriteAnomaliesCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d records", len(records))
	}
	if records[1][0] != "2024-01-15" || records[1][3] != "excess_refund" {
		t.Errorf("Unexpected first anomaly row: %v", records[1])
	}
	if records[2][0] != "" {
		t.Errorf("Expected empty date for dateless anomaly, got %q", records[2][0])
	}
}

func TestWriteJSON(t *testing.T) {
	rep := &report.Report{
		Metadata: report.Metadata{
			RunID:          "run-1",
			GeneratedAt:    time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC),
			TotalAnomalies: 2,
		},
		DailyMetrics: sampleMetrics(),
		Anomalies:    sampleAnomalies(),
	}

	var buf bytes.Buffer
	if err := NewReporter().WriteJSON(&buf, rep); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	metadata, ok := decoded["metadata"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected metadata object")
	}
	if metadata["run_id"] != "run-1" {
		t.Errorf("Expected run_id run-1, got %v", metadata["run_id"])
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("Expected indented JSON output")
	}
	if !strings.Contains(buf.String(), `"date": "2024-01-15"`) {
		t.Error("Expected daily metric dates rendered as YYYY-MM-DD")
	}
}

func TestWriteConsoleSummary(t *testing.T) {
	rep := &report.Report{
		Metadata: report.Metadata{
			RunID:          "run-1",
			GeneratedAt:    time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC),
			TotalAnomalies: 2,
			AnomalyCounts: map[models.Rule]int{
				models.RuleExcessRefund: 1,
				models.RuleMalformedRow: 1,
			},
			Counts: report.Counts{
				RowsDropped:    map[models.Source]int{models.SourceOrders: 1},
				OrphanPayments: 1,
			},
		},
		DailyMetrics: sampleMetrics(),
	}

	var buf bytes.Buffer
	if err := NewReporter().WriteConsoleSummary(&buf, rep); err != nil {
		t.Fatalf("WriteConsoleSummary failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"run-1", "Anomalies: 2", "excess_refund", "malformed_row"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected console summary to contain %q, got:\n%s", want, out)
		}
	}
}
