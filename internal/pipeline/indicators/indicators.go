// Package indicators builds the Current Account indicator hierarchy from
// clean long-format observations: balances on goods, services, primary and
// secondary income, the aggregated current account and its share of GDP.
package indicators

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/abcore/econ-insights/internal/pipeline/cleaner"
	"github.com/abcore/econ-insights/internal/pipeline/models"
)

// Canonical names of the derived series.
const (
	BalanceOnGoods           = "balance_on_goods"
	BalanceOnServices        = "balance_on_services"
	BalanceOnPrimaryIncome   = "balance_on_primary_income"
	SecondaryCreditCombined  = "secondary_credit_combined"
	BalanceOnSecondaryIncome = "balance_on_secondary_income"
	CurrentAccountCalculated = "current_account_calculated"
	CurrentAccountReported   = "current_account_reported"
	CurrentAccountDiff       = "current_account_diff"
	CurrentAccountPercentGDP = "ca_percent_gdp"
)

// ErrNoObservations is returned when there is nothing to derive from.
var ErrNoObservations = errors.New("no observations to derive indicators from")

// keywords map canonical inputs to normalized substrings searched for in the
// source series descriptions.
var keywords = map[string][]string{
	"exports":                 {"export"},
	"imports":                 {"import"},
	"services_export":         {"services export"},
	"services_import":         {"services import"},
	"pi_credit":               {"primary income credit", "primary income  credit", "pi credit"},
	"pi_debit":                {"primary income debit", "primary income  debit", "pi debit"},
	"secondary_credit":        {"secondary income credit", "secondary credit"},
	"secondary_debit":         {"secondary income debit", "secondary debit"},
	"workers_remittances":     {"workers remittances", "remittances"},
	"current_account_balance": {"current account balance", "current account"},
	"gdp":                     {"gdp", "gross domestic product"},
}

// search order matters: broader keywords (exports matching "services exports")
// must be claimed by the more specific canonical names first.
var canonOrder = []string{
	"services_export",
	"services_import",
	"exports",
	"imports",
	"pi_credit",
	"pi_debit",
	"secondary_credit",
	"secondary_debit",
	"workers_remittances",
	"current_account_balance",
	"gdp",
}

// Result holds the combined source and derived observations along with
// flags for which hierarchy levels could be built.
type Result struct {
	Observations []models.Observation

	HasGoods           bool
	HasServices        bool
	HasPrimaryIncome   bool
	HasSecondaryIncome bool
	HasCurrentAccount  bool
}

// Derive pivots the observations per date, computes every balance of the
// Current Account hierarchy that its inputs allow, and returns source plus
// derived observations in sorted long form.
//
// Rules follow the analyst workflow: a balance is only emitted for dates
// where both of its sides are present. The combined secondary credit treats a
// missing side as zero, since remittances are often reported separately. The
// aggregated current account sums whichever component balances exist per date.
func Derive(obs []models.Observation) (Result, error) {
	if len(obs) == 0 {
		return Result{}, ErrNoObservations
	}

	pivot, descriptions := pivotByDate(obs)
	colMap := buildColumnMap(descriptions)

	reported, hasReported := colMap["current_account_balance"]

	derived := make(map[string]map[time.Time]float64)
	set := func(name string, date time.Time, v float64) {
		if derived[name] == nil {
			derived[name] = make(map[time.Time]float64)
		}
		derived[name][date] = v
	}

	for date, row := range pivot {
		if a, b, ok := pair(row, colMap, "exports", "imports"); ok {
			set(BalanceOnGoods, date, a-b)
		}
		if a, b, ok := pair(row, colMap, "services_export", "services_import"); ok {
			set(BalanceOnServices, date, a-b)
		}
		if a, b, ok := pair(row, colMap, "pi_credit", "pi_debit"); ok {
			set(BalanceOnPrimaryIncome, date, a-b)
		}

		secCredit, hasSecCredit := lookup(row, colMap, "secondary_credit")
		remits, hasRemits := lookup(row, colMap, "workers_remittances")
		if hasSecCredit || hasRemits {
			set(SecondaryCreditCombined, date, secCredit+remits)
		}
		if combined, ok := derived[SecondaryCreditCombined][date]; ok {
			if secDebit, ok := lookup(row, colMap, "secondary_debit"); ok {
				set(BalanceOnSecondaryIncome, date, combined-secDebit)
			}
		}
	}

	components := []string{BalanceOnGoods, BalanceOnServices, BalanceOnPrimaryIncome, BalanceOnSecondaryIncome}
	hasAnyComponent := false
	for _, c := range components {
		if len(derived[c]) > 0 {
			hasAnyComponent = true
			break
		}
	}
	if hasAnyComponent {
		for date := range pivot {
			total := 0.0
			for _, c := range components {
				total += derived[c][date]
			}
			set(CurrentAccountCalculated, date, total)
		}
	}

	if hasReported {
		for date, row := range pivot {
			rep, ok := row[reported]
			if !ok {
				continue
			}
			if calc, ok := derived[CurrentAccountCalculated][date]; ok {
				set(CurrentAccountDiff, date, rep-calc)
			}
		}
	}

	if gdpCol, ok := colMap["gdp"]; ok {
		for date, calc := range derived[CurrentAccountCalculated] {
			gdp, ok := pivot[date][gdpCol]
			if !ok || gdp == 0 {
				continue
			}
			set(CurrentAccountPercentGDP, date, calc/gdp*100)
		}
	}

	res := Result{
		HasGoods:           len(derived[BalanceOnGoods]) > 0,
		HasServices:        len(derived[BalanceOnServices]) > 0,
		HasPrimaryIncome:   len(derived[BalanceOnPrimaryIncome]) > 0,
		HasSecondaryIncome: len(derived[BalanceOnSecondaryIncome]) > 0,
		HasCurrentAccount:  len(derived[CurrentAccountCalculated]) > 0,
	}

	// Source observations pass through; the reported current account series
	// is renamed to its canonical description.
	for _, o := range obs {
		if hasReported && o.Description == reported {
			o.Description = CurrentAccountReported
		}
		res.Observations = append(res.Observations, o)
	}
	for name, series := range derived {
		for date, v := range series {
			res.Observations = append(res.Observations, models.Observation{
				Description: name,
				Date:        date,
				FiscalYear:  cleaner.FiscalYear(date),
				Value:       v,
				Derived:     true,
			})
		}
	}

	sort.Slice(res.Observations, func(i, j int) bool {
		a, b := res.Observations[i], res.Observations[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Description < b.Description
	})

	return res, nil
}

func pivotByDate(obs []models.Observation) (map[time.Time]map[string]float64, []string) {
	pivot := make(map[time.Time]map[string]float64)
	seen := make(map[string]struct{})
	for _, o := range obs {
		if pivot[o.Date] == nil {
			pivot[o.Date] = make(map[string]float64)
		}
		// Duplicates should have been aggregated by the cleaner; sum again
		// for safety so a stray duplicate cannot shadow data.
		pivot[o.Date][o.Description] += o.Value
		seen[o.Description] = struct{}{}
	}

	descriptions := make([]string, 0, len(seen))
	for d := range seen {
		descriptions = append(descriptions, d)
	}
	sort.Strings(descriptions)
	return pivot, descriptions
}

// buildColumnMap resolves canonical input names to actual series descriptions
// by normalized substring match. Descriptions are consumed on first claim so
// two canonical names never map to the same series.
func buildColumnMap(descriptions []string) map[string]string {
	claimed := make(map[string]bool)
	colMap := make(map[string]string, len(canonOrder))

	for _, canon := range canonOrder {
		for _, desc := range descriptions {
			if claimed[desc] {
				continue
			}
			norm := normalize(desc)
			for _, kw := range keywords[canon] {
				if strings.Contains(norm, kw) {
					colMap[canon] = desc
					claimed[desc] = true
					break
				}
			}
			if _, ok := colMap[canon]; ok {
				break
			}
		}
	}
	return colMap
}

// normalize lowercases and replaces every non-alphanumeric rune with a space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

func lookup(row map[string]float64, colMap map[string]string, canon string) (float64, bool) {
	col, ok := colMap[canon]
	if !ok {
		return 0, false
	}
	v, ok := row[col]
	return v, ok
}

func pair(row map[string]float64, colMap map[string]string, a, b string) (float64, float64, bool) {
	av, aok := lookup(row, colMap, a)
	bv, bok := lookup(row, colMap, b)
	return av, bv, aok && bok
}
