// Package reconcile joins normalized orders with their payments and refunds
// into unified order records. The join is a left join keyed on canonical
// order id: every order produces exactly one unified record, and payments or
// refunds without a matching order are reported as orphans instead of being
// silently dropped.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/pkg/logger"
)

// Config controls reconciliation behavior.
type Config struct {
	// DateFrom and DateTo bound the reporting window inclusively by order
	// date. A zero value leaves that side unbounded.
	DateFrom time.Time
	DateTo   time.Time

	// OffHours marks orders placed inside the window. Nil disables the flag.
	OffHours *models.OffHoursWindow

	// Weekend marks orders placed on Saturday or Sunday. False disables the
	// flag, leaving IsWeekend false on every unified order.
	Weekend bool
}

// Result is the output of one reconciliation pass.
type Result struct {
	Orders    []models.UnifiedOrder
	Anomalies []models.Anomaly

	OrphanPayments int
	OrphanRefunds  int
	FilteredOut    int
}

// Reconciler performs the order/payment/refund join.
type Reconciler struct {
	config Config
	logger logger.Logger
}

// NewReconciler creates a Reconciler with the given configuration.
func NewReconciler(config Config) *Reconciler {
	return &Reconciler{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reconciler"),
	}
}

// Reconcile joins the three datasets and returns unified orders sorted by
// (order_ts, order_id), together with orphan anomalies and counters.
func (r *Reconciler) Reconcile(orders []models.Order, payments []models.Payment, refunds []models.Refund) *Result {
	result := &Result{}

	paymentsByOrder := make(map[string][]models.Payment)
	for _, p := range payments {
		paymentsByOrder[p.OrderID] = append(paymentsByOrder[p.OrderID], p)
	}
	refundsByOrder := make(map[string][]models.Refund)
	for _, rf := range refunds {
		refundsByOrder[rf.OrderID] = append(refundsByOrder[rf.OrderID], rf)
	}

	known := make(map[string]bool, len(orders))
	for _, o := range orders {
		known[o.ID] = true
	}

	for _, o := range orders {
		unified := r.buildUnified(o, paymentsByOrder[o.ID], refundsByOrder[o.ID])
		if !r.inRange(unified.Date()) {
			result.FilteredOut++
			continue
		}
		result.Orders = append(result.Orders, unified)
	}

	r.collectOrphans(known, payments, refunds, result)

	sort.Slice(result.Orders, func(i, j int) bool {
		if !result.Orders[i].OrderTS.Equal(result.Orders[j].OrderTS) {
			return result.Orders[i].OrderTS.Before(result.Orders[j].OrderTS)
		}
		return result.Orders[i].OrderID < result.Orders[j].OrderID
	})

	r.logger.WithFields(logger.Fields{
		"unified_orders":  len(result.Orders),
		"orphan_payments": result.OrphanPayments,
		"orphan_refunds":  result.OrphanRefunds,
		"filtered_out":    result.FilteredOut,
	}).Info("Reconciliation completed")

	return result
}

func (r *Reconciler) buildUnified(order models.Order, payments []models.Payment, refunds []models.Refund) models.UnifiedOrder {
	unified := models.UnifiedOrder{
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		OrderTS:      order.OrderTS,
		Amount:       order.Amount,
		PaidAmount:   decimal.Zero,
		RefundAmount: decimal.Zero,
	}

	gateways := make(map[string]bool)
	for _, p := range payments {
		if !p.Successful() {
			continue
		}
		unified.PaidAmount = unified.PaidAmount.Add(p.Amount)
		if p.Gateway != "" {
			gateways[p.Gateway] = true
		}
		if !p.PaymentTS.IsZero() &&
			(unified.FirstPaymentTS.IsZero() || p.PaymentTS.Before(unified.FirstPaymentTS)) {
			unified.FirstPaymentTS = p.PaymentTS
		}
	}
	for g := range gateways {
		unified.Gateways = append(unified.Gateways, g)
	}
	sort.Strings(unified.Gateways)

	for _, rf := range refunds {
		unified.RefundAmount = unified.RefundAmount.Add(rf.Amount)
		if !rf.RefundTS.IsZero() &&
			(unified.FirstRefundTS.IsZero() || rf.RefundTS.Before(unified.FirstRefundTS)) {
			unified.FirstRefundTS = rf.RefundTS
		}
	}

	unified.PaymentStatus = paymentStatus(unified.PaidAmount, unified.Amount)
	unified.NetAmount = unified.PaidAmount.Sub(unified.RefundAmount)
	if !unified.FirstPaymentTS.IsZero() {
		unified.TimeToPayment = unified.FirstPaymentTS.Sub(unified.OrderTS)
	}

	if r.config.OffHours != nil {
		unified.IsOffHours = r.config.OffHours.Contains(unified.OrderTS)
	}
	if r.config.Weekend {
		wd := unified.OrderTS.Weekday()
		unified.IsWeekend = wd == time.Saturday || wd == time.Sunday
	}

	return unified
}

// paymentStatus classifies the paid total against the order amount.
// Overpayment still classifies as paid; the overpayment rule flags it.
func paymentStatus(paid, amount decimal.Decimal) models.PaymentStatus {
	switch {
	case paid.IsZero() || paid.IsNegative():
		return models.PaymentStatusUnpaid
	case paid.LessThan(amount):
		return models.PaymentStatusPartial
	default:
		return models.PaymentStatusPaid
	}
}

func (r *Reconciler) collectOrphans(known map[string]bool, payments []models.Payment, refunds []models.Refund, result *Result) {
	for _, p := range payments {
		if known[p.OrderID] {
			continue
		}
		result.OrphanPayments++
		result.Anomalies = append(result.Anomalies, models.Anomaly{
			SubjectID: p.OrderID,
			Scope:     models.ScopeOrder,
			Rule:      models.RuleOrphanPayment,
			Severity:  models.SeverityMedium,
			Date:      dateOrZero(p.PaymentTS),
			Detail:    fmt.Sprintf("payment of %s at line %d references an unknown order", p.Amount, p.Line),
			Value:     p.Amount,
		})
	}
	for _, rf := range refunds {
		if known[rf.OrderID] {
			continue
		}
		result.OrphanRefunds++
		result.Anomalies = append(result.Anomalies, models.Anomaly{
			SubjectID: rf.OrderID,
			Scope:     models.ScopeOrder,
			Rule:      models.RuleOrphanRefund,
			Severity:  models.SeverityMedium,
			Date:      dateOrZero(rf.RefundTS),
			Detail:    fmt.Sprintf("refund of %s at line %d references an unknown order", rf.Amount, rf.Line),
			Value:     rf.Amount,
		})
	}
}

func (r *Reconciler) inRange(date time.Time) bool {
	if !r.config.DateFrom.IsZero() && date.Before(r.config.DateFrom) {
		return false
	}
	if !r.config.DateTo.IsZero() && date.After(r.config.DateTo) {
		return false
	}
	return true
}

func dateOrZero(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Time{}
	}
	return models.DateOf(ts)
}
