// Package models provides the data structures shared across the pipeline stages.
package models

import "time"

// Observation is a single long-format data point of an economic series.
type Observation struct {
	Description string
	Date        time.Time
	FiscalYear  int
	Value       float64

	// Derived marks observations computed by the indicator stage rather than
	// present in the source table.
	Derived bool
}

// RejectedRow is a source row that could not be cleaned into an Observation.
type RejectedRow struct {
	Raw    string
	Reason string
}

// Table is a raw tabular dataset as read from disk, before any cleaning.
// Cells are kept as strings; typing happens in the cleaner.
type Table struct {
	Header []string
	Rows   [][]string
}

// Empty reports whether the table has no data rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}
