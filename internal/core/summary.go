package core

import "github.com/shopspring/decimal"

type (
	// MonthTotals splits a month between revenue and expense kinds.
	MonthTotals struct {
		Revenue  decimal.Decimal `json:"revenue"`
		Expenses decimal.Decimal `json:"expenses"`
	}

	CategoryTotal struct {
		ID        string          `json:"id"`
		Kind      Kind            `json:"type"`
		SortOrder int             `json:"sort_order"`
		Total     decimal.Decimal `json:"total"`
	}

	// View aggregates one provenance slice of a year.
	View struct {
		TotalRevenue  decimal.Decimal          `json:"total_revenue"`
		TotalExpenses decimal.Decimal          `json:"total_expenses"`
		NetProfit     decimal.Decimal          `json:"net_profit"`
		Monthly       map[int]MonthTotals      `json:"monthly"`
		Categories    map[string]CategoryTotal `json:"categories"`
	}

	// Summary holds the consolidated (actual), projection and combined views
	// of a company year. Projections is nil when projections were excluded.
	Summary struct {
		CompanyID          string     `json:"company_id"`
		Year               int        `json:"year"`
		IncludeProjections bool       `json:"include_projections"`
		Consolidated       View       `json:"consolidated"`
		Projections        *View      `json:"projections,omitempty"`
		Combined           View       `json:"combined"`
		Status             DataStatus `json:"data_status"`
	}

	// DataStatus tells which periods count as projections and how many
	// entries of each provenance a summary folded.
	DataStatus struct {
		Cutoff            Period `json:"projection_cutoff"`
		ActualEntries     int    `json:"actual_entries"`
		ProjectionEntries int    `json:"projection_entries"`
	}

	CategoryVariance struct {
		Kind             Kind             `json:"type"`
		Actual           decimal.Decimal  `json:"actual"`
		Projected        decimal.Decimal  `json:"projected"`
		AbsoluteVariance decimal.Decimal  `json:"absolute_variance"`
		RelativeVariance *decimal.Decimal `json:"relative_variance,omitempty"`
	}

	// VarianceReport compares actuals with projections for one month.
	// Undefined holds categories with a zero projection and a non-zero
	// actual, for which no ratio exists.
	VarianceReport struct {
		CompanyID       string                      `json:"company_id"`
		Period          Period                      `json:"period"`
		Threshold       decimal.Decimal             `json:"threshold"`
		Flagged         map[string]CategoryVariance `json:"flagged"`
		Undefined       map[string]CategoryVariance `json:"undefined"`
		RevenueVariance decimal.Decimal             `json:"revenue_variance"`
		ExpenseVariance decimal.Decimal             `json:"expense_variance"`
	}

	ProvenanceTotals struct {
		Total decimal.Decimal `json:"total"`
		Count int             `json:"count"`
	}

	// DataTypeSummary counts and sums actual against projection entries.
	DataTypeSummary struct {
		CompanyID    string           `json:"company_id"`
		Year         *int             `json:"year,omitempty"`
		Consolidated ProvenanceTotals `json:"consolidated"`
		Projections  ProvenanceTotals `json:"projections"`
	}
)

// NewView returns a view with zero totals for all twelve months.
func NewView() View {
	v := View{
		TotalRevenue:  decimal.Zero,
		TotalExpenses: decimal.Zero,
		NetProfit:     decimal.Zero,
		Monthly:       make(map[int]MonthTotals, 12),
		Categories:    make(map[string]CategoryTotal),
	}
	for m := 1; m <= 12; m++ {
		v.Monthly[m] = MonthTotals{Revenue: decimal.Zero, Expenses: decimal.Zero}
	}
	return v
}
