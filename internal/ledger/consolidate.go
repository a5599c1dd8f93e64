package ledger

import (
	"context"
	"fmt"
	"strings"

	"orti/internal/core"
	applog "orti/internal/log"
)

// Consolidation is the outcome of closing one month.
type Consolidation struct {
	CompanyID string      `json:"company_id"`
	Period    core.Period `json:"period"`

	// Promoted holds the actual entries written from projections.
	Promoted []core.Entry `json:"promoted"`

	// AlreadyActual counts projections whose subcategory had an actual
	// value for the month; those are left alone.
	AlreadyActual int            `json:"already_actual"`
	Failed        []EntryFailure `json:"failed"`
}

// ConsolidateMonth records every projection of the month that has no actual
// counterpart as an actual with the same value. The projections are kept as
// the plan the month is compared against. A non-empty notes replaces the
// notes of the promoted entries.
func (s *Service) ConsolidateMonth(ctx context.Context, companyID string, year, month int, notes string) (Consolidation, error) {
	p := core.Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Consolidation{}, err
	}
	if companyID == "" {
		return Consolidation{}, fmt.Errorf("%w: company is required", core.ErrInvalidValue)
	}

	lines, err := s.store.QueryLines(ctx, core.EntryFilter{CompanyID: &companyID, Year: &year, Month: &month})
	if err != nil {
		return Consolidation{}, fmt.Errorf("query month: %w", err)
	}

	hasActual := make(map[string]bool, len(lines))
	for _, l := range lines {
		if !l.IsProjection {
			hasActual[l.SubcategoryID] = true
		}
	}

	out := Consolidation{CompanyID: companyID, Period: p, Promoted: []core.Entry{}, Failed: []EntryFailure{}}
	notes = strings.TrimSpace(notes)
	var pending []core.Entry
	for _, l := range lines {
		if !l.IsProjection {
			continue
		}
		if hasActual[l.SubcategoryID] {
			out.AlreadyActual++
			continue
		}
		e := core.Entry{
			SubcategoryID: l.SubcategoryID,
			Year:          l.Year,
			Month:         l.Month,
			Value:         l.Value,
			Notes:         l.Notes,
		}
		if notes != "" {
			e.Notes = notes
		}
		pending = append(pending, e)
	}
	if len(pending) == 0 {
		return out, nil
	}

	res := s.BatchUpsert(ctx, pending)
	out.Promoted = append(out.Promoted, res.Applied...)
	out.Failed = append(out.Failed, res.Failed...)
	if err := res.StoreErr(); err != nil {
		return out, fmt.Errorf("consolidate %s: %w", p, err)
	}

	s.logger.InfoContext(ctx, "Month consolidated",
		applog.FieldOperation, applog.OpConsolidate,
		applog.FieldCompany, companyID,
		applog.FieldYear, year,
		applog.FieldMonth, month,
		"promoted", len(out.Promoted),
		"already_actual", out.AlreadyActual,
		"failed", len(out.Failed))
	return out, nil
}
