// Package config translates raw CLI flag values into validated pipeline
// options. All string parsing of user input happens here so the pipeline
// itself only ever sees typed values.
package config

import (
	"github.com/shopspring/decimal"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/internal/pipeline"
	"order-reconciliation-etl/pkg/errors"
)

// RunSettings holds the raw flag values of the run command.
type RunSettings struct {
	OrdersFile   string
	PaymentsFile string
	RefundsFile  string
	OutputDir    string

	DateFrom string
	DateTo   string
	OffHours string
	Weekend  bool

	OutlierSigma     float64
	HighSigma        float64
	StaleDays        int
	LateRefundDays   int
	OverpayTolerance float64
}

// BuildOptions parses the raw settings into pipeline options. The returned
// options are fully validated.
func BuildOptions(s RunSettings) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	opts.OrdersPath = s.OrdersFile
	opts.PaymentsPath = s.PaymentsFile
	opts.RefundsPath = s.RefundsFile
	opts.WeekendEnabled = s.Weekend

	if s.DateFrom != "" {
		from, err := models.ParseDate(s.DateFrom)
		if err != nil {
			return opts, errors.ConfigurationError(errors.CodeInvalidDateRange, "date-from", s.DateFrom, err)
		}
		opts.DateFrom = from
	}
	if s.DateTo != "" {
		to, err := models.ParseDate(s.DateTo)
		if err != nil {
			return opts, errors.ConfigurationError(errors.CodeInvalidDateRange, "date-to", s.DateTo, err)
		}
		opts.DateTo = to
	}

	if s.OffHours != "" {
		window, err := models.ParseOffHoursWindow(s.OffHours)
		if err != nil {
			return opts, errors.ConfigurationError(errors.CodeInvalidOffHoursWindow, "offhours", s.OffHours, err)
		}
		opts.OffHours = window
	}

	opts.Detection.OutlierSigma = s.OutlierSigma
	opts.Detection.HighSigma = s.HighSigma
	opts.Detection.StaleDays = s.StaleDays
	opts.Detection.LateRefundDays = s.LateRefundDays
	opts.Detection.OverpayTolerance = decimal.NewFromFloat(s.OverpayTolerance)

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
