// Package storage defines the persistence ports of the ledger and the
// shared helpers its adapters use.
package storage

import (
	"context"

	"orti/internal/core"
)

// Ports for outbound persistence adapters.
type (
	CompanyRepository interface {
		// GetOrCreateCompany returns the company with the given name, creating
		// it when missing.
		GetOrCreateCompany(ctx context.Context, name, description string) (core.Company, error)
		GetCompanyByName(ctx context.Context, name string) (core.Company, error)
	}

	CategoryRepository interface {
		// ListCategories returns the company's categories ordered by
		// sort_order then name.
		ListCategories(ctx context.Context, companyID string) ([]core.Category, error)
		GetCategory(ctx context.Context, id string) (core.Category, error)
		// CreateCategory fails with core.ErrConflict when the name is taken.
		CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
		UpdateCategory(ctx context.Context, c core.Category) (core.Category, error)
		// DeleteCategory removes the category, its children, their
		// subcategories and every entry below them.
		DeleteCategory(ctx context.Context, id string) (DeleteStats, error)

		ListSubcategories(ctx context.Context, categoryID string) ([]core.Subcategory, error)
		GetSubcategory(ctx context.Context, id string) (core.Subcategory, error)
		FindSubcategory(ctx context.Context, categoryID, name string) (core.Subcategory, error)
		// CreateSubcategory fails with core.ErrConflict when the name is taken
		// within the category.
		CreateSubcategory(ctx context.Context, s core.Subcategory) (core.Subcategory, error)
		DeleteSubcategory(ctx context.Context, id string) (DeleteStats, error)
	}

	EntryRepository interface {
		// UpsertEntry inserts or replaces the entry sharing the natural key
		// (subcategory, year, month, projection flag).
		UpsertEntry(ctx context.Context, e core.Entry) (core.Entry, error)
		GetEntry(ctx context.Context, id string) (core.Entry, error)
		// UpdateEntry rewrites an entry by id. Moving it onto another entry's
		// natural key fails with core.ErrConflict.
		UpdateEntry(ctx context.Context, e core.Entry) (core.Entry, error)
		DeleteEntry(ctx context.Context, id string) error
		// QueryLines returns entries with their classification, newest period
		// first.
		QueryLines(ctx context.Context, f core.EntryFilter) ([]core.LedgerLine, error)

		DeleteEntriesBySubcategory(ctx context.Context, subcategoryID string) (int64, error)
		// DeleteEntriesByCompany removes a company's entries, limited to one
		// year when year is non-nil.
		DeleteEntriesByCompany(ctx context.Context, companyID string, year *int) (int64, error)
		DeleteZeroEntries(ctx context.Context, companyID string) (int64, error)
	}

	// Store is a complete ledger backend with an explicit lifecycle.
	Store interface {
		CompanyRepository
		CategoryRepository
		EntryRepository
		Ping(ctx context.Context) error
		Close() error
	}
)

// DeleteStats counts the rows a cascading delete removed.
type DeleteStats struct {
	Categories    int64 `json:"categories"`
	Subcategories int64 `json:"subcategories"`
	Entries       int64 `json:"entries"`
}
