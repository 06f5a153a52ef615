// Package parsers reads spreadsheet extracts (delimited text) into raw
// named-field rows for the pipeline. It is the input side of the I/O
// boundary: cell values are handed through untyped and uninterpreted;
// typed coercion and row-level validation happen in the normalizer.
//
// The package handles the structural concerns of real-world exports:
// header validation, column aliases across differently-labelled extracts,
// encoding checks, line accounting, and per-file parse statistics. Only
// structural problems (missing file, missing required columns, invalid
// encoding) are fatal; unreadable individual lines are counted and skipped.
package parsers

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"order-reconciliation-etl/pkg/errors"
	"order-reconciliation-etl/pkg/logger"
)

// LineError records a single unreadable or structurally bad input line.
type LineError struct {
	Line    int
	Message string
	Err     error
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ParseConfig holds low-level CSV reading options.
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	ValidateEncoding bool
}

// DefaultParseConfig returns sensible defaults for spreadsheet exports.
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		ValidateEncoding: true,
	}
}

// BaseParser provides the CSV mechanics shared by the source parsers.
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a BaseParser with the given configuration.
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("parser"),
	}
}

// headerMap tracks the column layout of the file being read.
type headerMap struct {
	headers []string
	index   map[string]int
}

// columnIndex resolves a column name case-insensitively, or -1.
func (h *headerMap) columnIndex(name string) int {
	if i, ok := h.index[name]; ok {
		return i
	}
	lower := strings.ToLower(name)
	for header, i := range h.index {
		if strings.ToLower(header) == lower {
			return i
		}
	}
	return -1
}

// OpenFile opens a delimited-text file and returns a configured csv.Reader.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open input file")
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, nil, err
		}
		if _, err := file.Seek(0, 0); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	reader := csv.NewReader(file)
	reader.Comma = bp.config.Delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	return file, reader, nil
}

// validateEncoding checks the first lines of the file for valid UTF-8.
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(errors.CodeEncodingError, filePath, lineNum, "",
				fmt.Errorf("invalid UTF-8 encoding detected"))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil
}

// readHeaders reads the header row and verifies the required columns are
// present, resolving aliases to canonical column names.
func (bp *BaseParser) readHeaders(reader *csv.Reader, filePath string, required []string, aliases map[string]string) (*headerMap, int, error) {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, errors.ParseError(errors.CodeEmptyFile, filePath, 0, "", nil)
		}
		return nil, 0, errors.ParseError(errors.CodeInvalidFormat, filePath, 1, "", err)
	}

	hm := &headerMap{index: make(map[string]int)}
	for i, header := range headers {
		name := strings.TrimSpace(header)
		if canonical, ok := aliases[strings.ToLower(name)]; ok {
			name = canonical
		}
		hm.headers = append(hm.headers, name)
		hm.index[name] = i
	}

	var missing []string
	for _, name := range required {
		if hm.columnIndex(name) == -1 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"file_path":         filePath,
			"missing_columns":   missing,
			"available_columns": hm.headers,
		}).Error("Required columns missing")
		return nil, 1, errors.ParseError(errors.CodeMissingColumn, filePath, 1,
			strings.Join(missing, ", "), nil)
	}

	return hm, 1, nil
}

// isEmptyRecord reports whether every field is blank.
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats summarizes one file read.
type ParseStats struct {
	TotalLines int
	RowsRead   int
	LineErrors []*LineError
}

// AddError records an unreadable line.
func (ps *ParseStats) AddError(line int, message string, err error) {
	ps.LineErrors = append(ps.LineErrors, &LineError{Line: line, Message: message, Err: err})
}

// HasErrors reports whether any line failed to read.
func (ps *ParseStats) HasErrors() bool {
	return len(ps.LineErrors) > 0
}

// String returns a human-readable summary.
func (ps *ParseStats) String() string {
	return fmt.Sprintf("read %d rows from %d lines, %d line errors",
		ps.RowsRead, ps.TotalLines, len(ps.LineErrors))
}

// SampleErrors returns up to max line errors for logging.
func (ps *ParseStats) SampleErrors(max int) []string {
	limit := len(ps.LineErrors)
	if max > 0 && max < limit {
		limit = max
	}
	var samples []string
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.LineErrors[i].Error())
	}
	return samples
}
