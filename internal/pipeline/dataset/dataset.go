// Package dataset loads raw Current Account tables from disk.
// It supports CSV files and .xlsx workbooks and returns an untyped
// models.Table; all value parsing is deferred to the cleaner.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/abcore/econ-insights/internal/pipeline/models"
)

var (
	// ErrUnsupportedFormat is returned for file extensions the loader does not handle.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyTable is returned when a file contains no data rows.
	ErrEmptyTable = errors.New("table has no data rows")
)

// Load reads the table at path, dispatching on the file extension.
func Load(path string) (models.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path)
	case ".xlsx":
		return loadExcel(path)
	default:
		// Legacy binary .xls workbooks are rejected too: they need a
		// conversion to .xlsx before ingest.
		return models.Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func loadCSV(path string) (models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.Table{}, fmt.Errorf("%s: %w", path, ErrEmptyTable)
		}
		return models.Table{}, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.Table{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, record)
	}

	return newTable(path, header, rows)
}

func loadExcel(path string) (models.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return models.Table{}, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil {
			slog.Warn("Failed to close workbook", "path", path, "err", cErr)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return models.Table{}, fmt.Errorf("%s: workbook has no sheets", path)
	}

	// Data is expected on the first sheet, matching the source exports.
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return models.Table{}, fmt.Errorf("failed to read sheet %q of %s: %w", sheets[0], path, err)
	}
	if len(records) == 0 {
		return models.Table{}, fmt.Errorf("%s: %w", path, ErrEmptyTable)
	}

	return newTable(path, records[0], records[1:])
}

func newTable(path string, header []string, rows [][]string) (models.Table, error) {
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
	}

	// Drop fully empty rows, common at the bottom of exported sheets.
	kept := rows[:0]
	for _, row := range rows {
		if !emptyRow(row) {
			kept = append(kept, row)
		}
	}

	if len(kept) == 0 {
		return models.Table{}, fmt.Errorf("%s: %w", path, ErrEmptyTable)
	}

	slog.Debug("Loaded table", "path", path, "columns", len(header), "rows", len(kept))
	return models.Table{Header: header, Rows: kept}, nil
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
