package storage

import (
	"fmt"
	"strings"

	"orti/internal/core"
)

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

func Question(int) string { return "?" }

func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// LinesQuery is the join shared by the SQL adapters. The value column is
// selected through valueExpr so each dialect can render it as text.
func LinesQuery(valueExpr string) string {
	return `SELECT e.id, e.subcategory_id, e.year, e.month, ` + valueExpr + `, e.is_projection, e.notes,
	e.created_at, e.updated_at, s.name, c.id, c.name, c.kind
FROM financial_entries e
JOIN subcategories s ON s.id = e.subcategory_id
JOIN categories c ON c.id = s.category_id`
}

// WhereEntries renders the filter as a WHERE clause over LinesQuery aliases.
// projectionArg converts the flag to the dialect's boolean representation.
func WhereEntries(f core.EntryFilter, ph Placeholder, projectionArg func(bool) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, ph(len(args))))
	}
	if f.CompanyID != nil {
		add("c.company_id = %s", *f.CompanyID)
	}
	if f.CategoryID != nil {
		add("c.id = %s", *f.CategoryID)
	}
	if f.SubcategoryID != nil {
		add("e.subcategory_id = %s", *f.SubcategoryID)
	}
	if f.Year != nil {
		add("e.year = %s", *f.Year)
	}
	if f.Month != nil {
		add("e.month = %s", *f.Month)
	}
	if f.IsProjection != nil {
		add("e.is_projection = %s", projectionArg(*f.IsProjection))
	}

	clause := ""
	if len(conds) > 0 {
		clause = " WHERE " + strings.Join(conds, " AND ")
	}
	clause += " ORDER BY e.year DESC, e.month DESC, c.sort_order, c.name, s.sort_order, s.name, e.is_projection"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		clause += " LIMIT " + ph(len(args))
	}
	return clause, args
}
