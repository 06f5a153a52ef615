// Package errors defines the categorized error type used across the ETL
// pipeline. Data-quality problems (malformed rows, duplicates, orphans) are
// never errors; they become anomalies in the report. Errors here are the
// fatal conditions: unreadable inputs, invalid configuration, and integrity
// violations that would corrupt downstream statistics if resolved silently.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the kind of failure they represent.
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryIntegrity     ErrorCategory = "integrity"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeOutputError    ErrorCode = "output_error"

	// Parse errors (structural CSV problems, not cell-level values)
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeEncodingError ErrorCode = "encoding_error"
	CodeEmptyFile     ErrorCode = "empty_file"

	// Configuration errors
	CodeInvalidDateRange      ErrorCode = "invalid_date_range"
	CodeInvalidOffHoursWindow ErrorCode = "invalid_offhours_window"
	CodeInvalidThreshold      ErrorCode = "invalid_threshold"
	CodeInvalidConfig         ErrorCode = "invalid_config"

	// Integrity violations
	CodeKeyCollision ErrorCode = "key_collision"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// PipelineError is the base error type for all fatal pipeline failures.
type PipelineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured detail about the failure.
type Context map[string]interface{}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// GetExitCode maps the error category to a process exit code.
func (e *PipelineError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryIntegrity, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// WithContext attaches a key/value pair to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches a remediation hint.
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PipelineError.
func New(category ErrorCategory, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with pipeline context.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// FileError builds an error for input/output file problems.
func FileError(code ErrorCode, path string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check that the path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "re-export the spreadsheet extract and try again"
	case CodeOutputError:
		message = fmt.Sprintf("failed writing output: %s", path)
		suggestion = "check that the output directory is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	result := wrapOrNew(err, CategoryFile, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError builds an error for structural CSV problems. Cell-level value
// problems are handled by the normalizer as malformed_row anomalies instead.
func ParseError(code ErrorCode, file string, line int, detail string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column(s) %s in file %s", detail, file)
		suggestion = "verify the export has all required column headers"
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid CSV format in file %s at line %d", file, line)
		suggestion = "check that the file is a valid delimited-text export"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in file %s at line %d", file, line)
		suggestion = "save the file in UTF-8 encoding"
	case CodeEmptyFile:
		message = fmt.Sprintf("file %s contains no data rows", file)
		suggestion = "ensure the export contains a header and at least one row"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = "check the file format"
	}

	result := wrapOrNew(err, CategoryParse, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line)
}

// ConfigurationError builds an error for invalid run configuration. These
// surface before the pipeline runs.
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeInvalidDateRange:
		message = fmt.Sprintf("invalid date range: %v", value)
		suggestion = "date-from must not be after date-to; use YYYY-MM-DD"
	case CodeInvalidOffHoursWindow:
		message = fmt.Sprintf("invalid off-hours window '%v'", value)
		suggestion = "use HH:MM-HH:MM, e.g. 21:00-09:00 (the window may wrap midnight)"
	case CodeInvalidThreshold:
		message = fmt.Sprintf("invalid value for '%s': %v", setting, value)
		suggestion = "thresholds must be positive"
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the flag values and configuration file"
	}

	result := wrapOrNew(err, CategoryConfiguration, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// IntegrityError builds an error for data integrity violations that cannot
// be resolved deterministically. The run aborts rather than silently picking
// a winner.
func IntegrityError(code ErrorCode, subject string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeKeyCollision:
		message = fmt.Sprintf("distinct order identifiers collide after normalization: %s", subject)
		suggestion = "fix the identifiers in the orders extract so each canonical id maps to one order"
	default:
		message = fmt.Sprintf("integrity violation: %s", subject)
		suggestion = "review the input data for inconsistencies"
	}

	result := wrapOrNew(err, CategoryIntegrity, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("subject", subject)
}

// InternalError builds an error for unexpected internal failures.
func InternalError(operation string, err error) *PipelineError {
	return wrapOrNew(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

func wrapOrNew(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// ErrorSummary aggregates multiple errors for reporting.
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*PipelineError      `json:"errors"`
}

// NewErrorSummary builds a summary from a list of errors.
func NewErrorSummary(errs []*PipelineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if errs == nil {
		summary.Errors = []*PipelineError{}
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted message for the summary.
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// GetExitCode returns the highest-priority exit code among the errors.
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}
	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// IsPipelineError checks whether an error is a PipelineError.
func IsPipelineError(err error) bool {
	_, ok := err.(*PipelineError)
	return ok
}

// AsPipelineError extracts a PipelineError from an error chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error unless it is already a PipelineError.
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}
	if pipelineErr, ok := AsPipelineError(err); ok {
		return pipelineErr
	}
	return Wrap(err, category, code, message)
}
