package parsers

import (
	"fmt"

	"order-reconciliation-etl/internal/models"
)

// Canonical column names per source. Aliases in the configs below map the
// varied labels seen in real exports onto these names; everything downstream
// of the parser uses only the canonical names.
const (
	ColOrderID       = "order_id"
	ColOrderTS       = "order_ts"
	ColAmount        = "amount"
	ColCustomerID    = "customer_id"
	ColPaymentAmount = "payment_amount"
	ColPaymentTS     = "payment_ts"
	ColPaymentStatus = "payment_status"
	ColGateway       = "gateway"
	ColRefundAmount  = "refund_amount"
	ColRefundTS      = "refund_ts"
)

// SourceConfig describes how to read one input dataset.
type SourceConfig struct {
	Source          models.Source
	RequiredColumns []string
	OptionalColumns []string
	// ColumnAliases maps lower-cased header labels to canonical column names.
	ColumnAliases map[string]string
	HasHeader     bool
	Delimiter     rune
}

// Validate checks the source configuration.
func (c *SourceConfig) Validate() error {
	switch c.Source {
	case models.SourceOrders, models.SourcePayments, models.SourceRefunds:
	default:
		return fmt.Errorf("unknown source: %s", c.Source)
	}
	if len(c.RequiredColumns) == 0 {
		return fmt.Errorf("source %s has no required columns", c.Source)
	}
	if c.Delimiter == 0 {
		return fmt.Errorf("source %s has no delimiter", c.Source)
	}
	return nil
}

// Columns returns all canonical columns the parser will carry through.
func (c *SourceConfig) Columns() []string {
	return append(append([]string{}, c.RequiredColumns...), c.OptionalColumns...)
}

// OrdersConfig returns the configuration for the orders extract.
func OrdersConfig() *SourceConfig {
	return &SourceConfig{
		Source:          models.SourceOrders,
		RequiredColumns: []string{ColOrderID, ColOrderTS, ColAmount},
		OptionalColumns: []string{ColCustomerID},
		HasHeader:       true,
		Delimiter:       ',',
		ColumnAliases: map[string]string{
			"id":             ColOrderID,
			"orderid":        ColOrderID,
			"order_datetime": ColOrderTS,
			"datetime":       ColOrderTS,
			"timestamp":      ColOrderTS,
			"order_date":     ColOrderTS,
			"order_amount":   ColAmount,
			"amt":            ColAmount,
			"value":          ColAmount,
			"customer":       ColCustomerID,
			"cust_id":        ColCustomerID,
		},
	}
}

// PaymentsConfig returns the configuration for the payments extract.
func PaymentsConfig() *SourceConfig {
	return &SourceConfig{
		Source:          models.SourcePayments,
		RequiredColumns: []string{ColOrderID, ColPaymentAmount},
		OptionalColumns: []string{ColPaymentTS, ColPaymentStatus, ColGateway},
		HasHeader:       true,
		Delimiter:       ',',
		ColumnAliases: map[string]string{
			"orderid":          ColOrderID,
			"paid_amount":      ColPaymentAmount,
			"amount":           ColPaymentAmount,
			"amt":              ColPaymentAmount,
			"payment_datetime": ColPaymentTS,
			"paid_at":          ColPaymentTS,
			"datetime":         ColPaymentTS,
			"status":           ColPaymentStatus,
			"payment_gateway":  ColGateway,
			"provider":         ColGateway,
		},
	}
}

// RefundsConfig returns the configuration for the refunds extract.
func RefundsConfig() *SourceConfig {
	return &SourceConfig{
		Source:          models.SourceRefunds,
		RequiredColumns: []string{ColOrderID, ColRefundAmount},
		OptionalColumns: []string{ColRefundTS},
		HasHeader:       true,
		Delimiter:       ',',
		ColumnAliases: map[string]string{
			"orderid":         ColOrderID,
			"amount":          ColRefundAmount,
			"amt":             ColRefundAmount,
			"refund_datetime": ColRefundTS,
			"refunded_at":     ColRefundTS,
			"datetime":        ColRefundTS,
		},
	}
}
