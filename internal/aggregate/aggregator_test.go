package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-reconciliation-etl/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func unified(id string, day, hour int, amount string) models.UnifiedOrder {
	ts := time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
	amt := dec(amount)
	return models.UnifiedOrder{
		OrderID:      id,
		OrderTS:      ts,
		Amount:       amt,
		PaidAmount:   amt,
		RefundAmount: decimal.Zero,
		NetAmount:    amt,
	}
}

func TestAggregateGroupsByDay(t *testing.T) {
	orders := []models.UnifiedOrder{
		unified("ORD-1", 15, 10, "100.00"),
		unified("ORD-2", 15, 14, "200.00"),
		unified("ORD-3", 17, 9, "50.00"),
	}

	metrics := NewDailyAggregator().Aggregate(orders)

	if len(metrics) != 2 {
		t.Fatalf("Expected 2 days (empty days omitted), got %d", len(metrics))
	}
	if metrics[0].Date.Day() != 15 || metrics[1].Date.Day() != 17 {
		t.Errorf("Expected ascending dates 15, 17; got %v, %v", metrics[0].Date, metrics[1].Date)
	}

	day15 := metrics[0]
	if day15.OrderCount != 2 {
		t.Errorf("Expected 2 orders on the 15th, got %d", day15.OrderCount)
	}
	if !day15.TotalAmount.Equal(dec("300.00")) {
		t.Errorf("Expected total 300.00, got %s", day15.TotalAmount)
	}
	if !day15.MeanAmount.Equal(dec("150.00")) {
		t.Errorf("Expected mean 150.00, got %s", day15.MeanAmount)
	}
}

func TestAggregateSampleStdev(t *testing.T) {
	// Sample stdev of {100, 200, 300} is 100.
	orders := []models.UnifiedOrder{
		unified("ORD-1", 15, 10, "100"),
		unified("ORD-2", 15, 11, "200"),
		unified("ORD-3", 15, 12, "300"),
	}

	metrics := NewDailyAggregator().Aggregate(orders)

	if math.Abs(metrics[0].StdevAmount-100.0) > 1e-9 {
		t.Errorf("Expected stdev 100, got %f", metrics[0].StdevAmount)
	}
}

func TestAggregateSingleOrderStdevZero(t *testing.T) {
	metrics := NewDailyAggregator().Aggregate([]models.UnifiedOrder{
		unified("ORD-1", 15, 10, "100.00"),
	})

	if metrics[0].StdevAmount != 0 {
		t.Errorf("Expected stdev 0 for a single order, got %f", metrics[0].StdevAmount)
	}
}

func TestAggregateRefundRate(t *testing.T) {
	refunded := unified("ORD-1", 15, 10, "100.00")
	refunded.RefundAmount = dec("50.00")
	orders := []models.UnifiedOrder{
		refunded,
		unified("ORD-2", 15, 11, "100.00"),
	}

	metrics := NewDailyAggregator().Aggregate(orders)

	if math.Abs(metrics[0].RefundRate-0.25) > 1e-9 {
		t.Errorf("Expected refund rate 50/200 = 0.25, got %f", metrics[0].RefundRate)
	}
	if !metrics[0].TotalRefunded.Equal(dec("50.00")) {
		t.Errorf("Expected total refunded 50.00, got %s", metrics[0].TotalRefunded)
	}
	if !metrics[0].NetRevenue.Equal(dec("150.00")) {
		t.Errorf("Expected net revenue 150.00, got %s", metrics[0].NetRevenue)
	}
}

func TestAggregateZeroVolumeDayRefundRate(t *testing.T) {
	free := unified("ORD-1", 15, 10, "0")
	free.RefundAmount = dec("10.00")

	metrics := NewDailyAggregator().Aggregate([]models.UnifiedOrder{free})

	if metrics[0].RefundRate != 0 {
		t.Errorf("Expected refund rate 0 on a zero-volume day, got %f", metrics[0].RefundRate)
	}
}

func TestAggregateTemporalCounts(t *testing.T) {
	offHours := unified("ORD-1", 15, 23, "100.00")
	offHours.IsOffHours = true
	weekend := unified("ORD-2", 13, 12, "100.00")
	weekend.IsWeekend = true

	metrics := NewDailyAggregator().Aggregate([]models.UnifiedOrder{offHours, weekend})

	if len(metrics) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(metrics))
	}
	if metrics[0].WeekendCount != 1 {
		t.Errorf("Expected 1 weekend order on the 13th, got %d", metrics[0].WeekendCount)
	}
	if metrics[1].OffHoursCount != 1 {
		t.Errorf("Expected 1 off-hours order on the 15th, got %d", metrics[1].OffHoursCount)
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	metrics := NewDailyAggregator().Aggregate(nil)
	if len(metrics) != 0 {
		t.Errorf("Expected no metrics for empty input, got %d", len(metrics))
	}
}
