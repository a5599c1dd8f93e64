package importer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"orti/internal/core"
	"orti/internal/sheets"
)

// ColumnMap assigns a period to each value column.
type ColumnMap map[int]core.Period

// MonthColumns maps twelve consecutive columns starting at firstCol to the
// months of year.
func MonthColumns(firstCol, year int) ColumnMap {
	m := make(ColumnMap, 12)
	for month := 1; month <= 12; month++ {
		m[firstCol+month-1] = core.Period{Year: year, Month: month}
	}
	return m
}

// Layout tells the importer where labels and values sit in a table.
type Layout struct {
	LabelColumn int
	// Columns is used as given when set. Otherwise the header row is
	// detected and StartYear is the year of its first month column.
	Columns   ColumnMap
	StartYear int
}

// DetectHeader locates the month header in each sheet. A zero startYear
// takes the year from the sheet name.
func DetectHeader(startYear int) Layout {
	return Layout{StartYear: startYear}
}

// sortedColumns returns the map's columns in ascending order.
func (m ColumnMap) sortedColumns() []int {
	cols := make([]int, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// A detected header needs one month name; single-month sheets are common.
// Under an explicit column map a data row is only treated as a repeated
// header when it names at least minRepeatedHeaderMonths months.
const (
	minHeaderMonths         = 1
	minRepeatedHeaderMonths = 2
)

// plan resolves the layout against one table. It returns the columns and
// the index of the first data row.
func (l Layout) plan(t sheets.Table) (ColumnMap, int, error) {
	if len(l.Columns) > 0 {
		return l.Columns, 0, nil
	}

	year := l.StartYear
	if year == 0 {
		y, ok := yearFromName(t.Name)
		if !ok {
			return nil, 0, fmt.Errorf("no start year given and sheet name %q carries none", t.Name)
		}
		year = y
	}

	for r, row := range t.Rows {
		if cols := headerColumns(row, l.LabelColumn, year); len(cols) >= minHeaderMonths {
			return cols, r + 1, nil
		}
	}
	return nil, 0, fmt.Errorf("no month header row found")
}

// isHeaderRow reports whether row looks like a month header. Used to skip
// repeated headers under an explicit column map.
func isHeaderRow(row []string, labelColumn int) bool {
	return len(headerColumns(row, labelColumn, core.MinYear)) >= minRepeatedHeaderMonths
}

// headerColumns maps each month cell of row to a period. The year rolls
// over whenever the month number does not increase, unless the cell names
// its year explicitly.
func headerColumns(row []string, labelColumn, startYear int) ColumnMap {
	cols := make(ColumnMap)
	year, prev := startYear, 0
	for c, cell := range row {
		if c == labelColumn {
			continue
		}
		month, explicitYear, ok := parseMonthHeader(cell)
		if !ok {
			continue
		}
		switch {
		case explicitYear != 0:
			year = explicitYear
		case prev != 0 && month <= prev:
			year++
		}
		prev = month
		cols[c] = core.Period{Year: year, Month: month}
	}
	return cols
}

var monthNames = map[string]int{
	"gennaio": 1, "febbraio": 2, "marzo": 3, "aprile": 4, "maggio": 5, "giugno": 6,
	"luglio": 7, "agosto": 8, "settembre": 9, "ottobre": 10, "novembre": 11, "dicembre": 12,
	"gen": 1, "mag": 5, "giu": 6, "lug": 7, "ago": 8, "set": 9, "ott": 10, "dic": 12,

	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6, "jul": 7, "aug": 8,
	"sep": 9, "sept": 9, "oct": 10, "nov": 11, "dec": 12,
}

var headerSplit = regexp.MustCompile(`[\s\-/.']+`)

// parseMonthHeader reads cells such as "Gennaio", "gen-25", "Jan 2026" or
// "Dicembre '25".
func parseMonthHeader(cell string) (month, year int, ok bool) {
	parts := headerSplit.Split(strings.ToLower(strings.TrimSpace(cell)), -1)
	var tokens []string
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	if len(tokens) == 0 || len(tokens) > 2 {
		return 0, 0, false
	}
	month, ok = monthNames[tokens[0]]
	if !ok {
		return 0, 0, false
	}
	if len(tokens) == 2 {
		y, err := strconv.Atoi(tokens[1])
		if err != nil {
			return 0, 0, false
		}
		switch len(tokens[1]) {
		case 2:
			y += 2000
		case 4:
		default:
			return 0, 0, false
		}
		year = y
	}
	return month, year, true
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func yearFromName(name string) (int, bool) {
	m := yearPattern.FindString(name)
	if m == "" {
		return 0, false
	}
	y, err := strconv.Atoi(m)
	return y, err == nil
}
