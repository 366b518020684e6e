// Package cleaner reshapes raw Current Account tables into clean long-format
// observations: wide month columns are melted, dates and values are parsed,
// duplicates are aggregated and each observation is tagged with its fiscal year.
package cleaner

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abcore/econ-insights/internal/pipeline/models"
)

// ErrNoDescriptionColumn is returned when the input table has no
// "Description" column (matched case-insensitively).
var ErrNoDescriptionColumn = errors.New("input must contain a 'Description' column")

// dateLayouts are tried in order. Source exports label month columns like
// "Jul-13"; long-format files may carry full dates.
var dateLayouts = []string{
	"Jan-06",
	"Jan-2006",
	"2006-01-02",
	"2006-01",
	time.RFC3339,
}

// Result holds the cleaned observations and the rows that were rejected
// during cleaning, so callers can record them instead of silently losing data.
type Result struct {
	Observations []models.Observation
	Rejected     []models.RejectedRow
}

// Clean converts a raw table into sorted long-format observations.
//
// Wide tables (Description + more than one month column) are melted so every
// (row, month) cell becomes an observation. Tables that already carry
// description/date/value columns are normalized in place. Rows with
// unparsable dates or non-numeric values are rejected, duplicate
// (date, description) pairs are summed.
func Clean(table models.Table) (Result, error) {
	descIdx := -1
	for i, col := range table.Header {
		if strings.EqualFold(strings.TrimSpace(col), "description") {
			descIdx = i
			break
		}
	}
	if descIdx < 0 {
		return Result{}, ErrNoDescriptionColumn
	}

	// A table carrying its own date and value columns is already long;
	// anything else with multiple remaining columns is wide month data.
	var raw []rawObservation
	if isLong(table.Header, descIdx) {
		var err error
		raw, err = normalizeLong(table, descIdx)
		if err != nil {
			return Result{}, err
		}
	} else {
		raw = melt(table, descIdx)
	}

	var res Result
	type key struct {
		date        time.Time
		description string
	}
	totals := make(map[key]float64)

	for _, r := range raw {
		date, ok := parseDate(r.date)
		if !ok {
			res.Rejected = append(res.Rejected, models.RejectedRow{
				Raw:    r.String(),
				Reason: fmt.Sprintf("unparsable date %q", r.date),
			})
			continue
		}
		value, ok := parseValue(r.value)
		if !ok {
			res.Rejected = append(res.Rejected, models.RejectedRow{
				Raw:    r.String(),
				Reason: fmt.Sprintf("non-numeric value %q", r.value),
			})
			continue
		}
		totals[key{date, r.description}] += value
	}

	for k, v := range totals {
		res.Observations = append(res.Observations, models.Observation{
			Description: k.description,
			Date:        k.date,
			FiscalYear:  FiscalYear(k.date),
			Value:       v,
		})
	}

	sort.Slice(res.Observations, func(i, j int) bool {
		a, b := res.Observations[i], res.Observations[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Description < b.Description
	})

	if len(res.Rejected) > 0 {
		slog.Info("Dropped unparsable rows during cleaning", "count", len(res.Rejected))
	}
	return res, nil
}

// FiscalYear returns the fiscal year an observation date belongs to.
// The fiscal year starts July 1 and is labeled by its starting calendar year:
// July 2013 through June 2014 is fiscal year 2013.
func FiscalYear(d time.Time) int {
	if d.Month() >= time.July {
		return d.Year()
	}
	return d.Year() - 1
}

type rawObservation struct {
	description string
	date        string
	value       string
}

func (r rawObservation) String() string {
	return strings.Join([]string{r.description, r.date, r.value}, ",")
}

// melt turns every non-description column into a (date label, value) pair per row.
func melt(table models.Table, descIdx int) []rawObservation {
	var raw []rawObservation
	for _, row := range table.Rows {
		if descIdx >= len(row) {
			continue
		}
		description := strings.TrimSpace(row[descIdx])
		for i, col := range table.Header {
			if i == descIdx || i >= len(row) {
				continue
			}
			raw = append(raw, rawObservation{
				description: description,
				date:        strings.TrimSpace(col),
				value:       strings.TrimSpace(row[i]),
			})
		}
	}
	return raw
}

// isLong reports whether the header carries both a date-like and a
// value-like column besides the description.
func isLong(header []string, descIdx int) bool {
	hasDate, hasValue := false, false
	for i, col := range header {
		if i == descIdx {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(col))
		if strings.Contains(name, "date") {
			hasDate = true
		}
		if name == "value" || name == "val" || name == "amount" {
			hasValue = true
		}
	}
	return hasDate && hasValue
}

// normalizeLong maps already-long tables onto description/date/value columns.
func normalizeLong(table models.Table, descIdx int) ([]rawObservation, error) {
	dateIdx, valueIdx := -1, -1
	for i, col := range table.Header {
		if i == descIdx {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(col))
		if dateIdx < 0 && strings.Contains(name, "date") {
			dateIdx = i
			continue
		}
		if valueIdx < 0 && (name == "value" || name == "val" || name == "amount") {
			valueIdx = i
		}
	}
	if dateIdx < 0 || valueIdx < 0 {
		return nil, fmt.Errorf("long-format table is missing date or value columns: %v", table.Header)
	}

	var raw []rawObservation
	for _, row := range table.Rows {
		if descIdx >= len(row) || dateIdx >= len(row) || valueIdx >= len(row) {
			continue
		}
		raw = append(raw, rawObservation{
			description: strings.TrimSpace(row[descIdx]),
			date:        strings.TrimSpace(row[dateIdx]),
			value:       strings.TrimSpace(row[valueIdx]),
		})
	}
	return raw, nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func parseValue(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
