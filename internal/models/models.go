// Package models defines the canonical entities flowing through the ETL
// pipeline: raw boundary rows, normalized source records, unified orders,
// daily metrics, and anomalies.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which input dataset a row came from.
type Source string

const (
	SourceOrders   Source = "orders"
	SourcePayments Source = "payments"
	SourceRefunds  Source = "refunds"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// RawRow is a loosely-typed row as read from a spreadsheet extract. It exists
// only between the input boundary and the normalizer; nothing downstream of
// normalization sees untyped values.
type RawRow struct {
	Source Source
	Line   int
	Fields map[string]string
}

// Get returns the trimmed value of a named field, or "" when absent.
func (r *RawRow) Get(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// PaymentStatus classifies how fully an order was paid.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// IsValid checks whether the payment status is one of the known values.
func (p PaymentStatus) IsValid() bool {
	return p == PaymentStatusUnpaid || p == PaymentStatusPartial || p == PaymentStatusPaid
}

// String returns the string representation of PaymentStatus.
func (p PaymentStatus) String() string {
	return string(p)
}

// Scope identifies the granularity an anomaly applies to.
type Scope string

const (
	ScopeOrder Scope = "order"
	ScopeDay   Scope = "day"
)

// Severity ranks how serious an anomaly is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rule identifies which detector produced an anomaly.
type Rule string

const (
	// Data-quality rules emitted during normalization and reconciliation.
	RuleMalformedRow  Rule = "malformed_row"
	RuleDuplicateRow  Rule = "duplicate_row"
	RuleOrphanPayment Rule = "orphan_payment"
	RuleOrphanRefund  Rule = "orphan_refund"

	// Order-level rules.
	RuleOffHours        Rule = "offhours_flag"
	RuleWeekend         Rule = "weekend_flag"
	RuleOverpayment     Rule = "overpayment"
	RulePaymentMismatch Rule = "payment_mismatch"
	RuleExcessRefund    Rule = "excess_refund"
	RuleUnpaidStale     Rule = "unpaid_stale"
	RuleLateRefund      Rule = "late_refund"
	RuleMultiGateway    Rule = "multi_gateway"
	RuleInvalidAmount   Rule = "invalid_amount"

	// Day-level statistical rule.
	RuleAmountOutlier Rule = "amount_outlier"
)

// Order is a normalized row from the orders extract.
type Order struct {
	ID         string          // canonical identifier
	RawID      string          // identifier as it appeared in the extract (trimmed)
	CustomerID string
	OrderTS    time.Time
	Amount     decimal.Decimal
	Line       int
}

// Payment is a normalized row from the payments extract.
type Payment struct {
	OrderID   string // canonical order identifier
	Amount    decimal.Decimal
	PaymentTS time.Time // zero when the extract had no usable timestamp
	Status    string    // raw gateway status, upper-cased (e.g. SUCCESS, FAILED)
	Gateway   string
	Line      int
}

// Successful reports whether the payment counts toward the paid amount.
// A blank status means the extract carries no status column and every row
// counts.
func (p *Payment) Successful() bool {
	return p.Status == "" || p.Status == "SUCCESS"
}

// Refund is a normalized row from the refunds extract.
type Refund struct {
	OrderID  string // canonical order identifier
	Amount   decimal.Decimal
	RefundTS time.Time // zero when the extract had no usable timestamp
	Line     int
}

// UnifiedOrder is the canonical joined representation of one order with its
// payment and refund history. Created by the reconciler; immutable after
// creation. RefundAmount may exceed Amount; that violation is surfaced as an
// excess_refund anomaly, never clamped.
type UnifiedOrder struct {
	OrderID        string          `json:"order_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	OrderTS        time.Time       `json:"order_ts"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	FirstPaymentTS time.Time       `json:"first_payment_ts,omitempty"`
	TimeToPayment  time.Duration   `json:"time_to_payment,omitempty"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	FirstRefundTS  time.Time       `json:"first_refund_ts,omitempty"`
	Gateways       []string        `json:"gateways,omitempty"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	IsOffHours     bool            `json:"is_offhours"`
	IsWeekend      bool            `json:"is_weekend"`
}

// Date returns the calendar day of the order timestamp.
func (u *UnifiedOrder) Date() time.Time {
	return DateOf(u.OrderTS)
}

// DailyMetric aggregates unified orders for one calendar day.
type DailyMetric struct {
	Date          time.Time       `json:"-"`
	OrderCount    int             `json:"order_count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	MeanAmount    decimal.Decimal `json:"mean_amount"`
	StdevAmount   float64         `json:"stdev_amount"`
	RefundRate    float64         `json:"refund_rate"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	NetRevenue    decimal.Decimal `json:"net_revenue"`
	OffHoursCount int             `json:"offhours_count"`
	WeekendCount  int             `json:"weekend_count"`
	AnomalyCount  int             `json:"anomaly_count"`
}

// MarshalJSON renders the date as YYYY-MM-DD alongside the metric columns.
func (m *DailyMetric) MarshalJSON() ([]byte, error) {
	type Alias DailyMetric
	return json.Marshal(&struct {
		Date string `json:"date"`
		*Alias
	}{
		Date:  m.Date.Format(DateLayout),
		Alias: (*Alias)(m),
	})
}

// Anomaly is a single flagged deviation. Anomalies are pure outputs: never
// mutated after creation, never merged across rules.
type Anomaly struct {
	SubjectID string          `json:"subject_id"`
	Scope     Scope           `json:"scope"`
	Rule      Rule            `json:"rule"`
	Severity  Severity        `json:"severity"`
	Date      time.Time       `json:"-"` // subject's calendar day; zero for dateless data-quality rows
	Detail    string          `json:"detail"`
	Value     decimal.Decimal `json:"value"`
	Threshold decimal.Decimal `json:"threshold"`
}

// MarshalJSON renders the date as YYYY-MM-DD, empty when unknown.
func (a *Anomaly) MarshalJSON() ([]byte, error) {
	type Alias Anomaly
	date := ""
	if !a.Date.IsZero() {
		date = a.Date.Format(DateLayout)
	}
	return json.Marshal(&struct {
		Date string `json:"date"`
		*Alias
	}{
		Date:  date,
		Alias: (*Alias)(a),
	})
}

// String returns a compact representation useful in logs.
func (a *Anomaly) String() string {
	return fmt.Sprintf("Anomaly{%s %s subject=%s severity=%s}", a.Scope, a.Rule, a.SubjectID, a.Severity)
}

// DateLayout is the canonical calendar-day format used across output tables.
const DateLayout = "2006-01-02"

// DateOf truncates a timestamp to its calendar day, preserving location so
// day grouping matches the local-time interpretation of the temporal flags.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CanonicalID normalizes an identifier for joining: trimmed and upper-cased.
func CanonicalID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// timestampLayouts are tried in order when parsing spreadsheet timestamps.
// The day-first layouts match the export format of the upstream order system.
var timestampLayouts = []string{
	"02-01-2006 15:04",
	"02-01-2006 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseTimestamp parses a spreadsheet timestamp using the known layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	var lastErr error
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp '%s': %w", s, lastErr)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s': use YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseMoney parses a monetary cell into a decimal rounded to 2 places.
// Common currency symbols and thousand separators are stripped first.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s': %w", s, err)
	}
	return d.Round(2), nil
}

// OffHoursWindow is a daily local-time interval, possibly wrapping midnight,
// during which order activity is flagged. Minutes are measured from midnight.
type OffHoursWindow struct {
	StartMinute int
	EndMinute   int
}

// ParseOffHoursWindow parses "HH:MM-HH:MM" (e.g. "21:00-09:00").
func ParseOffHoursWindow(s string) (*OffHoursWindow, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid off-hours window '%s': expected HH:MM-HH:MM", s)
	}

	start, err := parseClock(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid off-hours window '%s': %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid off-hours window '%s': %w", s, err)
	}
	if start == end {
		return nil, fmt.Errorf("invalid off-hours window '%s': start and end are equal", s)
	}

	return &OffHoursWindow{StartMinute: start, EndMinute: end}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time '%s': use HH:MM", strings.TrimSpace(s))
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether the clock time of t falls inside the window.
// A wrapping window such as 21:00-09:00 matches t >= start OR t < end.
func (w *OffHoursWindow) Contains(t time.Time) bool {
	current := t.Hour()*60 + t.Minute()
	if w.StartMinute < w.EndMinute {
		return current >= w.StartMinute && current < w.EndMinute
	}
	return current >= w.StartMinute || current < w.EndMinute
}

// String renders the window back to HH:MM-HH:MM form.
func (w *OffHoursWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		w.StartMinute/60, w.StartMinute%60, w.EndMinute/60, w.EndMinute%60)
}
