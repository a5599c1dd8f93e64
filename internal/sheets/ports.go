// Package sheets defines the tabular sources the importer reads from.
package sheets

import (
	"context"
	"errors"
)

// ErrUnreadableSource means the whole source could not be read. Retrying
// the same import will not help.
var ErrUnreadableSource = errors.New("unreadable source")

// Table is one sheet of raw cell text, row-major.
type Table struct {
	Name string     `json:"name"`
	Rows [][]string `json:"rows"`
}

// Cell returns the raw text at (row, col), or "" when the row
// is shorter.
func (t Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Ports for inbound tabular adapters.
type (
	TableReader interface {
		ReadTables(ctx context.Context) ([]Table, error)
	}
)
