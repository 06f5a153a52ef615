package parsers

import (
	"io"

	"order-reconciliation-etl/internal/models"
	"order-reconciliation-etl/pkg/errors"
	"order-reconciliation-etl/pkg/logger"
)

// RowParser reads one input dataset into raw named-field rows.
type RowParser struct {
	*BaseParser
	config *SourceConfig
	logger logger.Logger
}

// NewRowParser creates a parser for the given source configuration.
func NewRowParser(config *SourceConfig) (*RowParser, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "source_config", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "source_config", config.Source, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &RowParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent(string(config.Source) + "_parser"),
	}, nil
}

// ParseRows reads the file into raw rows. Structural problems (missing file,
// missing required columns, bad encoding) are fatal; individually unreadable
// lines are recorded in the stats and skipped.
func (rp *RowParser) ParseRows(filePath string) ([]models.RawRow, *ParseStats, error) {
	rp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"source":    rp.config.Source,
	}).Info("Reading input extract")

	file, reader, err := rp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	stats := &ParseStats{}

	hm, line, err := rp.readHeaders(reader, filePath, rp.config.RequiredColumns, rp.config.ColumnAliases)
	if err != nil {
		return nil, stats, err
	}

	columns := rp.config.Columns()
	var rows []models.RawRow

	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			line++
			stats.AddError(line, "unreadable line", err)
			rp.logger.WithError(err).WithField("line", line).Warn("Skipping unreadable line")
			continue
		}
		line++

		if isEmptyRecord(record) {
			continue
		}

		fields := make(map[string]string, len(columns))
		for _, col := range columns {
			idx := hm.columnIndex(col)
			if idx >= 0 && idx < len(record) {
				fields[col] = record[idx]
			}
		}

		rows = append(rows, models.RawRow{
			Source: rp.config.Source,
			Line:   line,
			Fields: fields,
		})
		stats.RowsRead++
	}

	stats.TotalLines = line

	rp.logger.WithFields(logger.Fields{
		"file_path":   filePath,
		"rows_read":   stats.RowsRead,
		"line_errors": len(stats.LineErrors),
	}).Info("Finished reading input extract")

	if stats.HasErrors() {
		rp.logger.WithField("sample_errors", stats.SampleErrors(3)).Warn("Encountered unreadable lines")
	}

	return rows, stats, nil
}
