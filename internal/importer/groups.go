package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/taxonomy"
)

// Group is one category's worth of values in a bulk JSON import.
type Group struct {
	CategoryName    string       `json:"category_name" validate:"required"`
	SubcategoryName string       `json:"subcategory_name"`
	IsProjection    bool         `json:"is_projection"`
	Entries         []GroupEntry `json:"entries" validate:"required,dive"`
}

type GroupEntry struct {
	Year  int             `json:"year" validate:"required"`
	Month int             `json:"month" validate:"required"`
	Value decimal.Decimal `json:"value"`
	Notes string          `json:"notes"`
}

// ImportGroups resolves each group's category, gets or creates its
// subcategory and upserts the entries. Out-of-range entries show up as
// failures; unresolved groups as warnings.
func (im *Importer) ImportGroups(ctx context.Context, companyID string, groups []Group, aliases AliasTable) (Report, error) {
	if companyID == "" {
		return Report{}, fmt.Errorf("%w: company is required", core.ErrInvalidValue)
	}
	if aliases == nil {
		aliases = DefaultAliases()
	}
	categories, err := im.taxonomy.Categories(ctx, companyID)
	if err != nil {
		return Report{}, fmt.Errorf("load categories: %w", err)
	}

	report := newReport()
	pending := newBatch()

	for gi, g := range groups {
		label := strings.TrimSpace(g.CategoryName)
		report.RowsRead++

		cat, err := taxonomy.Match(categories, aliases.Canonical(g.CategoryName))
		if err != nil {
			report.warn(Warning{Row: gi + 1, Label: label, Kind: WarnUnresolvedLabel, Message: err.Error()})
			continue
		}
		if cat.IsCalculated {
			report.warn(Warning{Row: gi + 1, Label: label, Kind: WarnSkipped,
				Message: fmt.Sprintf("%q is calculated from other rows", cat.Name)})
			continue
		}

		subName := strings.TrimSpace(g.SubcategoryName)
		if subName == "" {
			subName = taxonomy.DefaultSubcategory
		}
		leaf, err := im.taxonomy.GetOrCreateSubcategory(ctx, cat.ID, subName, 0)
		if errors.Is(err, core.ErrBackingStoreUnavailable) {
			return report, err
		}
		if err != nil {
			report.warn(Warning{Row: gi + 1, Label: label, Kind: WarnSkipped, Message: err.Error()})
			continue
		}

		for ei, ge := range g.Entries {
			e := core.Entry{
				SubcategoryID: leaf.ID,
				Year:          ge.Year,
				Month:         ge.Month,
				Value:         ge.Value,
				IsProjection:  g.IsProjection,
				Notes:         strings.TrimSpace(ge.Notes),
			}
			o := origin{row: gi + 1, col: ei + 1, label: label, category: cat.Name}
			if prev, replaced := pending.put(e, o); replaced {
				report.warn(Warning{Row: prev.row, Column: prev.col, Label: prev.label, Kind: WarnSkipped,
					Message: fmt.Sprintf("%s superseded by group %d entry %d", e.Period(), o.row, o.col)})
			}
		}
	}

	if err := im.apply(ctx, pending, &report); err != nil {
		im.logger.ErrorContext(ctx, "Bulk import aborted, store unavailable",
			applog.FieldOperation, applog.OpImport,
			applog.FieldCompany, companyID,
			applog.FieldError, err)
		return report, err
	}

	im.logger.InfoContext(ctx, "Bulk import completed",
		applog.FieldOperation, applog.OpImport,
		applog.FieldCompany, companyID,
		"groups", len(groups),
		"applied", report.Applied,
		"failed", len(report.Failed),
		"warnings", len(report.Warnings))
	return report, nil
}
