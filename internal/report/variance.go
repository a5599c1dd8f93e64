package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"orti/internal/core"
	applog "orti/internal/log"
)

// DefaultThreshold is the relative deviation at which a category is flagged.
var DefaultThreshold = decimal.RequireFromString("0.15")

// relativePrecision is the number of fractional digits of the reported
// relative variance.
const relativePrecision = 6

// AnalyzeVariance compares actual and projected totals per category for one
// month. A category is flagged when |relative variance| >= threshold.
// Categories with nothing projected but something actual land in Undefined.
func (s *Service) AnalyzeVariance(ctx context.Context, companyID string, year, month int, threshold decimal.Decimal) (core.VarianceReport, error) {
	p := core.Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return core.VarianceReport{}, err
	}
	if threshold.IsNegative() {
		return core.VarianceReport{}, fmt.Errorf("%w: threshold %s is negative", core.ErrInvalidValue, threshold)
	}

	cats, err := s.categories.ListCategories(ctx, companyID)
	if err != nil {
		return core.VarianceReport{}, fmt.Errorf("list categories: %w", err)
	}
	lines, err := s.lines.QueryLines(ctx, core.EntryFilter{CompanyID: &companyID, Year: &year, Month: &month})
	if err != nil {
		return core.VarianceReport{}, fmt.Errorf("query entries: %w", err)
	}

	type pair struct {
		kind              core.Kind
		actual, projected decimal.Decimal
	}
	totals := make(map[string]*pair, len(cats))
	for _, c := range cats {
		totals[c.Name] = &pair{kind: c.Kind, actual: decimal.Zero, projected: decimal.Zero}
	}
	for _, l := range lines {
		t, ok := totals[l.CategoryName]
		if !ok {
			t = &pair{kind: l.Kind, actual: decimal.Zero, projected: decimal.Zero}
			totals[l.CategoryName] = t
		}
		if l.IsProjection {
			t.projected = t.projected.Add(l.Value)
		} else {
			t.actual = t.actual.Add(l.Value)
		}
	}

	out := core.VarianceReport{
		CompanyID:       companyID,
		Period:          p,
		Threshold:       threshold,
		Flagged:         make(map[string]core.CategoryVariance),
		Undefined:       make(map[string]core.CategoryVariance),
		RevenueVariance: decimal.Zero,
		ExpenseVariance: decimal.Zero,
	}
	for name, t := range totals {
		diff := t.actual.Sub(t.projected)
		switch t.kind {
		case core.KindRevenue:
			out.RevenueVariance = out.RevenueVariance.Add(diff)
		case core.KindExpense:
			out.ExpenseVariance = out.ExpenseVariance.Add(diff)
		}

		cv := core.CategoryVariance{Kind: t.kind, Actual: t.actual, Projected: t.projected, AbsoluteVariance: diff}
		if t.projected.IsZero() {
			if !t.actual.IsZero() {
				out.Undefined[name] = cv
			}
			continue
		}
		// |diff| / |projected| >= threshold, compared without dividing so
		// rounding cannot push a ratio across the boundary.
		if diff.Abs().GreaterThanOrEqual(threshold.Mul(t.projected.Abs())) {
			rel := diff.DivRound(t.projected.Abs(), relativePrecision)
			cv.RelativeVariance = &rel
			out.Flagged[name] = cv
		}
	}

	s.logger.DebugContext(ctx, "Variance analyzed",
		applog.FieldOperation, applog.OpVariance,
		applog.FieldCompany, companyID,
		applog.FieldYear, year,
		applog.FieldMonth, month,
		"flagged", len(out.Flagged),
		"undefined", len(out.Undefined))
	return out, nil
}

// RankedVariance is one flagged or undefined category in presentation order.
type RankedVariance struct {
	Category string `json:"category"`
	core.CategoryVariance
	Undefined bool `json:"undefined,omitempty"`
}

// Ranked orders the flagged and undefined categories of r by absolute
// variance, largest first. Ties break on the category name.
func Ranked(r core.VarianceReport) []RankedVariance {
	out := make([]RankedVariance, 0, len(r.Flagged)+len(r.Undefined))
	for name, v := range r.Flagged {
		out = append(out, RankedVariance{Category: name, CategoryVariance: v})
	}
	for name, v := range r.Undefined {
		out = append(out, RankedVariance{Category: name, CategoryVariance: v, Undefined: true})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].AbsoluteVariance.Abs(), out[j].AbsoluteVariance.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return out[i].Category < out[j].Category
	})
	return out
}
