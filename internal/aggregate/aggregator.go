// Package aggregate folds unified orders into per-day metrics. Days with no
// orders are omitted rather than emitted as zero rows, and the output is
// always sorted by date ascending so repeated runs over the same input
// produce identical tables.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/pkg/logger"
)

// DailyAggregator computes per-day metrics over unified orders.
type DailyAggregator struct {
	logger logger.Logger
}

// NewDailyAggregator creates a DailyAggregator.
func NewDailyAggregator() *DailyAggregator {
	return &DailyAggregator{
		logger: logger.GetGlobalLogger().WithComponent("aggregator"),
	}
}

// Aggregate groups orders by calendar day and computes the metric columns.
// AnomalyCount is left at zero; the report assembler stitches it in after
// detection has run.
func (a *DailyAggregator) Aggregate(orders []models.UnifiedOrder) []models.DailyMetric {
	groups := make(map[time.Time][]models.UnifiedOrder)
	for _, o := range orders {
		day := o.Date()
		groups[day] = append(groups[day], o)
	}

	days := make([]time.Time, 0, len(groups))
	for day := range groups {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	metrics := make([]models.DailyMetric, 0, len(days))
	for _, day := range days {
		metrics = append(metrics, a.computeDay(day, groups[day]))
	}

	a.logger.WithFields(logger.Fields{
		"days":   len(metrics),
		"orders": len(orders),
	}).Info("Daily aggregation completed")

	return metrics
}

func (a *DailyAggregator) computeDay(day time.Time, orders []models.UnifiedOrder) models.DailyMetric {
	m := models.DailyMetric{
		Date:          day,
		OrderCount:    len(orders),
		TotalAmount:   decimal.Zero,
		MeanAmount:    decimal.Zero,
		TotalPaid:     decimal.Zero,
		TotalRefunded: decimal.Zero,
		NetRevenue:    decimal.Zero,
	}

	for _, o := range orders {
		m.TotalAmount = m.TotalAmount.Add(o.Amount)
		m.TotalPaid = m.TotalPaid.Add(o.PaidAmount)
		m.TotalRefunded = m.TotalRefunded.Add(o.RefundAmount)
		if o.IsOffHours {
			m.OffHoursCount++
		}
		if o.IsWeekend {
			m.WeekendCount++
		}
	}
	m.NetRevenue = m.TotalPaid.Sub(m.TotalRefunded)
	m.MeanAmount = m.TotalAmount.Div(decimal.NewFromInt(int64(len(orders)))).Round(2)
	m.StdevAmount = sampleStdev(orders, m.TotalAmount)
	// Refunded share of gross volume. Zero-volume days cannot divide.
	if !m.TotalAmount.IsZero() {
		m.RefundRate = m.TotalRefunded.Div(m.TotalAmount).InexactFloat64()
	}

	return m
}

// sampleStdev computes the sample standard deviation (n-1 denominator) of
// the order amounts. Zero when fewer than two orders.
func sampleStdev(orders []models.UnifiedOrder, total decimal.Decimal) float64 {
	n := len(orders)
	if n <= 1 {
		return 0
	}

	mean := total.InexactFloat64() / float64(n)
	var sumSq float64
	for _, o := range orders {
		d := o.Amount.InexactFloat64() - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}
