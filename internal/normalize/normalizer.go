// Package normalize coerces raw spreadsheet rows into strictly-typed source
// records. Nothing untyped survives this stage: every row either becomes a
// typed record or is dropped with a malformed_row anomaly. Duplicate handling
// is an explicit last-occurrence-wins policy, and identifier collisions that
// cannot be resolved deterministically abort the run.
package normalize

import (
	"fmt"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/internal/parsers"
	"order-reconciliation-etl/pkg/errors"
	"order-reconciliation-etl/pkg/logger"
)

// Result holds the typed output of normalization plus the data-quality
// anomalies and counters accumulated along the way.
type Result struct {
	Orders   []models.Order
	Payments []models.Payment
	Refunds  []models.Refund

	Anomalies []models.Anomaly

	RowsDropped      map[models.Source]int
	RowsDeduplicated map[models.Source]int
}

// Normalizer turns raw rows into canonical typed records.
type Normalizer struct {
	logger logger.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		logger: logger.GetGlobalLogger().WithComponent("normalizer"),
	}
}

// Normalize processes the three raw datasets. The only error it returns is
// an integrity violation: two distinct raw order identifiers canonicalizing
// to the same key. Everything else is recorded as anomalies.
func (n *Normalizer) Normalize(orders, payments, refunds []models.RawRow) (*Result, error) {
	result := &Result{
		RowsDropped:      make(map[models.Source]int),
		RowsDeduplicated: make(map[models.Source]int),
	}

	if err := n.normalizeOrders(orders, result); err != nil {
		return nil, err
	}
	n.normalizePayments(payments, result)
	n.normalizeRefunds(refunds, result)

	n.logger.WithFields(logger.Fields{
		"orders":       len(result.Orders),
		"payments":     len(result.Payments),
		"refunds":      len(result.Refunds),
		"dropped":      result.RowsDropped,
		"deduplicated": result.RowsDeduplicated,
	}).Info("Normalization completed")

	return result, nil
}

func (n *Normalizer) normalizeOrders(rows []models.RawRow, result *Result) error {
	// canonical id -> position in result.Orders, for last-wins dedup
	seen := make(map[string]int)

	for _, row := range rows {
		rawID := row.Get(parsers.ColOrderID)
		if rawID == "" {
			n.dropRow(result, row, parsers.ColOrderID, "")
			continue
		}

		ts, tsErr := models.ParseTimestamp(row.Get(parsers.ColOrderTS))
		if tsErr != nil {
			n.dropRow(result, row, parsers.ColOrderTS, row.Get(parsers.ColOrderTS))
			continue
		}

		amount, amtErr := models.ParseMoney(row.Get(parsers.ColAmount))
		if amtErr != nil {
			n.dropRow(result, row, parsers.ColAmount, row.Get(parsers.ColAmount))
			continue
		}

		order := models.Order{
			ID:         models.CanonicalID(rawID),
			RawID:      rawID,
			CustomerID: row.Get(parsers.ColCustomerID),
			OrderTS:    ts,
			Amount:     amount,
			Line:       row.Line,
		}

		if pos, dup := seen[order.ID]; dup {
			prev := result.Orders[pos]
			if prev.RawID != order.RawID {
				// Two different raw identifiers mapping to one canonical key
				// cannot be resolved by the dedup policy; picking either would
				// corrupt downstream statistics.
				return errors.IntegrityError(errors.CodeKeyCollision, order.ID, nil).
					WithContext("raw_ids", []string{prev.RawID, order.RawID}).
					WithContext("lines", []int{prev.Line, order.Line})
			}
			result.Anomalies = append(result.Anomalies, duplicateAnomaly(row.Source, prev.ID, prev.Line))
			result.RowsDeduplicated[row.Source]++
			result.Orders[pos] = order // last occurrence wins
			continue
		}

		seen[order.ID] = len(result.Orders)
		result.Orders = append(result.Orders, order)
	}

	return nil
}

func (n *Normalizer) normalizePayments(rows []models.RawRow, result *Result) {
	// Payments are not keyed uniquely by order: several payments per order
	// are legitimate. Only fully identical rows are duplicates.
	seen := make(map[string]int)

	for _, row := range rows {
		rawID := row.Get(parsers.ColOrderID)
		if rawID == "" {
			n.dropRow(result, row, parsers.ColOrderID, "")
			continue
		}

		amount, err := models.ParseMoney(row.Get(parsers.ColPaymentAmount))
		if err != nil {
			n.dropRow(result, row, parsers.ColPaymentAmount, row.Get(parsers.ColPaymentAmount))
			continue
		}

		payment := models.Payment{
			OrderID: models.CanonicalID(rawID),
			Amount:  amount,
			Status:  models.CanonicalID(row.Get(parsers.ColPaymentStatus)),
			Gateway: row.Get(parsers.ColGateway),
			Line:    row.Line,
		}
		// Timestamps are optional attachments; a blank or unparseable value
		// leaves the zero time rather than dropping the payment.
		if raw := row.Get(parsers.ColPaymentTS); raw != "" {
			if ts, err := models.ParseTimestamp(raw); err == nil {
				payment.PaymentTS = ts
			}
		}

		key := fmt.Sprintf("%s|%s|%s|%s|%s",
			payment.OrderID, payment.Amount, payment.PaymentTS, payment.Status, payment.Gateway)
		if pos, dup := seen[key]; dup {
			result.Anomalies = append(result.Anomalies, duplicateAnomaly(row.Source, payment.OrderID, result.Payments[pos].Line))
			result.RowsDeduplicated[row.Source]++
			result.Payments[pos] = payment
			continue
		}

		seen[key] = len(result.Payments)
		result.Payments = append(result.Payments, payment)
	}
}

func (n *Normalizer) normalizeRefunds(rows []models.RawRow, result *Result) {
	seen := make(map[string]int)

	for _, row := range rows {
		rawID := row.Get(parsers.ColOrderID)
		if rawID == "" {
			n.dropRow(result, row, parsers.ColOrderID, "")
			continue
		}

		amount, err := models.ParseMoney(row.Get(parsers.ColRefundAmount))
		if err != nil {
			n.dropRow(result, row, parsers.ColRefundAmount, row.Get(parsers.ColRefundAmount))
			continue
		}

		refund := models.Refund{
			OrderID: models.CanonicalID(rawID),
			Amount:  amount,
			Line:    row.Line,
		}
		if raw := row.Get(parsers.ColRefundTS); raw != "" {
			if ts, err := models.ParseTimestamp(raw); err == nil {
				refund.RefundTS = ts
			}
		}

		key := fmt.Sprintf("%s|%s|%s", refund.OrderID, refund.Amount, refund.RefundTS)
		if pos, dup := seen[key]; dup {
			result.Anomalies = append(result.Anomalies, duplicateAnomaly(row.Source, refund.OrderID, result.Refunds[pos].Line))
			result.RowsDeduplicated[row.Source]++
			result.Refunds[pos] = refund
			continue
		}

		seen[key] = len(result.Refunds)
		result.Refunds = append(result.Refunds, refund)
	}
}

// dropRow records a malformed row: a data-quality anomaly plus the drop
// counter, never a fatal error.
func (n *Normalizer) dropRow(result *Result, row models.RawRow, field, value string) {
	subject := models.CanonicalID(row.Get(parsers.ColOrderID))
	if subject == "" {
		subject = fmt.Sprintf("%s:line:%d", row.Source, row.Line)
	}

	detail := fmt.Sprintf("required field %s is blank or unparseable", field)
	if value != "" {
		detail = fmt.Sprintf("required field %s is unparseable: '%s'", field, value)
	}

	result.Anomalies = append(result.Anomalies, models.Anomaly{
		SubjectID: subject,
		Scope:     models.ScopeOrder,
		Rule:      models.RuleMalformedRow,
		Severity:  models.SeverityLow,
		Detail:    fmt.Sprintf("%s row at line %d dropped: %s", row.Source, row.Line, detail),
	})
	result.RowsDropped[row.Source]++

	n.logger.WithFields(logger.Fields{
		"source": row.Source,
		"line":   row.Line,
		"field":  field,
	}).Debug("Dropped malformed row")
}

func duplicateAnomaly(source models.Source, subject string, supersededLine int) models.Anomaly {
	return models.Anomaly{
		SubjectID: subject,
		Scope:     models.ScopeOrder,
		Rule:      models.RuleDuplicateRow,
		Severity:  models.SeverityLow,
		Detail: fmt.Sprintf("%s row at line %d superseded by a later occurrence (last occurrence wins)",
			source, supersededLine),
	}
}
