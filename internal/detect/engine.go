// Package detect applies the layered anomaly rule set to unified orders and
// daily metrics. Every rule is deterministic and order-independent: the same
// inputs always yield the same anomalies, and the output ordering is fixed
// by an explicit sort rather than by rule evaluation order.
package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/pkg/errors"
	"order-reconciliation-etl/pkg/logger"
)

// Default thresholds. Each is overridable through Config so behavior stays
// reproducible and testable without hidden constants.
const (
	DefaultOutlierSigma     = 3.0
	DefaultHighSigma        = 5.0
	DefaultStaleDays        = 30
	DefaultLateRefundDays   = 7
	DefaultOverpayTolerance = "0.01"
)

// Config carries the rule thresholds and toggles.
type Config struct {
	// OffHoursEnabled and WeekendEnabled gate the temporal flag rules. The
	// reconciler computes the flags; these decide whether flags become
	// anomalies.
	OffHoursEnabled bool
	WeekendEnabled  bool

	// OutlierSigma is the deviation multiple at which an order's amount
	// becomes a statistical outlier; HighSigma upgrades it to high severity.
	OutlierSigma float64
	HighSigma    float64

	// StaleDays is the age past which an unpaid order is flagged.
	StaleDays int

	// LateRefundDays is the delay past which a refund is flagged.
	LateRefundDays int

	// OverpayTolerance absorbs rounding noise before overpayment fires.
	OverpayTolerance decimal.Decimal

	// ReferenceTime anchors age-based rules. Zero means time.Now at
	// detection time.
	ReferenceTime time.Time
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	tolerance, _ := decimal.NewFromString(DefaultOverpayTolerance)
	return Config{
		OutlierSigma:     DefaultOutlierSigma,
		HighSigma:        DefaultHighSigma,
		StaleDays:        DefaultStaleDays,
		LateRefundDays:   DefaultLateRefundDays,
		OverpayTolerance: tolerance,
	}
}

// Validate rejects threshold combinations that would make detection
// meaningless.
func (c *Config) Validate() error {
	if c.OutlierSigma <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidThreshold, "outlier_sigma",
			fmt.Sprintf("%g", c.OutlierSigma), nil)
	}
	if c.HighSigma < c.OutlierSigma {
		return errors.ConfigurationError(errors.CodeInvalidThreshold, "high_sigma",
			fmt.Sprintf("%g", c.HighSigma), nil)
	}
	if c.StaleDays <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidThreshold, "stale_days",
			fmt.Sprintf("%d", c.StaleDays), nil)
	}
	if c.LateRefundDays <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidThreshold, "late_refund_days",
			fmt.Sprintf("%d", c.LateRefundDays), nil)
	}
	if c.OverpayTolerance.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidThreshold, "overpay_tolerance",
			c.OverpayTolerance.String(), nil)
	}
	return nil
}

// Engine evaluates the rule set.
type Engine struct {
	config Config
	logger logger.Logger
}

// NewEngine creates an Engine. The config must already be validated.
func NewEngine(config Config) *Engine {
	return &Engine{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("anomaly_engine"),
	}
}

// Detect runs every rule over the unified orders and returns the anomalies
// sorted by (date, subject_id, rule).
func (e *Engine) Detect(orders []models.UnifiedOrder) []models.Anomaly {
	reference := e.config.ReferenceTime
	if reference.IsZero() {
		reference = time.Now()
	}

	var anomalies []models.Anomaly
	for i := range orders {
		anomalies = append(anomalies, e.orderRules(&orders[i], reference)...)
	}
	anomalies = append(anomalies, e.outlierRule(orders)...)

	SortAnomalies(anomalies)

	e.logger.WithFields(logger.Fields{
		"orders":    len(orders),
		"anomalies": len(anomalies),
	}).Info("Anomaly detection completed")

	return anomalies
}

// SortAnomalies orders anomalies by (date, subject_id, rule). Dateless
// data-quality anomalies sort first.
func SortAnomalies(anomalies []models.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.Rule < b.Rule
	})
}

func (e *Engine) orderRules(o *models.UnifiedOrder, reference time.Time) []models.Anomaly {
	var out []models.Anomaly

	add := func(rule models.Rule, severity models.Severity, detail string, value, threshold decimal.Decimal) {
		out = append(out, models.Anomaly{
			SubjectID: o.OrderID,
			Scope:     models.ScopeOrder,
			Rule:      rule,
			Severity:  severity,
			Date:      o.Date(),
			Detail:    detail,
			Value:     value,
			Threshold: threshold,
		})
	}

	if e.config.OffHoursEnabled && o.IsOffHours {
		add(models.RuleOffHours, models.SeverityLow,
			fmt.Sprintf("order placed off-hours at %s", o.OrderTS.Format("15:04")),
			decimal.Zero, decimal.Zero)
	}
	if e.config.WeekendEnabled && o.IsWeekend {
		add(models.RuleWeekend, models.SeverityLow,
			fmt.Sprintf("order placed on a %s", o.OrderTS.Weekday()),
			decimal.Zero, decimal.Zero)
	}

	overpayBound := o.Amount.Add(e.config.OverpayTolerance)
	if o.PaidAmount.GreaterThan(overpayBound) {
		add(models.RuleOverpayment, models.SeverityMedium,
			fmt.Sprintf("paid %s against order amount %s", o.PaidAmount, o.Amount),
			o.PaidAmount, overpayBound)
	}

	// Underpayment side of the reconciliation: the upper side carries a
	// tolerance and is flagged by the overpayment rule. Fully unpaid orders
	// are a payment status, not a mismatch; the staleness rule picks them up.
	if o.PaidAmount.IsPositive() && o.PaidAmount.Round(2).LessThan(o.Amount.Round(2)) {
		add(models.RulePaymentMismatch, models.SeverityMedium,
			fmt.Sprintf("successful payments sum to %s against order amount %s", o.PaidAmount, o.Amount),
			o.PaidAmount, o.Amount)
	}

	if o.RefundAmount.GreaterThan(o.Amount) {
		add(models.RuleExcessRefund, models.SeverityHigh,
			fmt.Sprintf("refunded %s against order amount %s", o.RefundAmount, o.Amount),
			o.RefundAmount, o.Amount)
	}

	staleHorizon := time.Duration(e.config.StaleDays) * 24 * time.Hour
	if o.PaymentStatus == models.PaymentStatusUnpaid && reference.Sub(o.OrderTS) > staleHorizon {
		ageDays := reference.Sub(o.OrderTS).Hours() / 24
		add(models.RuleUnpaidStale, models.SeverityMedium,
			fmt.Sprintf("unpaid for %.0f days", ageDays),
			decimal.NewFromFloat(ageDays).Round(0), decimal.NewFromInt(int64(e.config.StaleDays)))
	}

	if !o.FirstRefundTS.IsZero() {
		lateHorizon := time.Duration(e.config.LateRefundDays) * 24 * time.Hour
		if delay := o.FirstRefundTS.Sub(o.OrderTS); delay > lateHorizon {
			delayDays := delay.Hours() / 24
			add(models.RuleLateRefund, models.SeverityMedium,
				fmt.Sprintf("first refund %.1f days after the order", delayDays),
				decimal.NewFromFloat(delayDays).Round(1), decimal.NewFromInt(int64(e.config.LateRefundDays)))
		}
	}

	if len(o.Gateways) > 1 {
		add(models.RuleMultiGateway, models.SeverityLow,
			fmt.Sprintf("payments span %d gateways: %v", len(o.Gateways), o.Gateways),
			decimal.NewFromInt(int64(len(o.Gateways))), decimal.NewFromInt(1))
	}

	if !o.Amount.IsPositive() || o.PaidAmount.IsNegative() || o.RefundAmount.IsNegative() {
		add(models.RuleInvalidAmount, models.SeverityHigh,
			fmt.Sprintf("non-positive or negative monetary value (amount=%s paid=%s refunded=%s)",
				o.Amount, o.PaidAmount, o.RefundAmount),
			o.Amount, decimal.Zero)
	}

	return out
}

// outlierRule flags orders whose amount deviates from their day's mean by
// more than OutlierSigma sample standard deviations. Uniform days have zero
// deviation and produce no outliers.
func (e *Engine) outlierRule(orders []models.UnifiedOrder) []models.Anomaly {
	groups := make(map[time.Time][]*models.UnifiedOrder)
	for i := range orders {
		day := orders[i].Date()
		groups[day] = append(groups[day], &orders[i])
	}

	var out []models.Anomaly
	for day, group := range groups {
		mean, stdev := amountStats(group)
		if stdev == 0 {
			continue
		}
		for _, o := range group {
			amount := o.Amount.InexactFloat64()
			sigmas := math.Abs(amount-mean) / stdev
			if sigmas <= e.config.OutlierSigma {
				continue
			}
			severity := models.SeverityMedium
			if sigmas >= e.config.HighSigma {
				severity = models.SeverityHigh
			}
			// Threshold is the bound the amount crossed.
			bound := mean + e.config.OutlierSigma*stdev
			if amount < mean {
				bound = mean - e.config.OutlierSigma*stdev
			}
			out = append(out, models.Anomaly{
				SubjectID: o.OrderID,
				Scope:     models.ScopeDay,
				Rule:      models.RuleAmountOutlier,
				Severity:  severity,
				Date:      day,
				Detail: fmt.Sprintf("amount %s deviates %.1f sigma from the day mean %.2f",
					o.Amount, sigmas, mean),
				Value:     o.Amount,
				Threshold: decimal.NewFromFloat(bound).Round(2),
			})
		}
	}
	return out
}

// amountStats returns the mean and sample standard deviation of the group's
// order amounts. Stdev is zero for groups of one.
func amountStats(group []*models.UnifiedOrder) (mean, stdev float64) {
	n := len(group)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, o := range group {
		sum += o.Amount.InexactFloat64()
	}
	mean = sum / float64(n)
	if n <= 1 {
		return mean, 0
	}
	var sumSq float64
	for _, o := range group {
		d := o.Amount.InexactFloat64() - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(n-1))
}
