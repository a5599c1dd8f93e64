// Package memory is an in-process ledger store. It backs tests and the
// "memory" data backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"orti/internal/core"
	"orti/internal/storage"
)

type entryKey struct {
	subcategoryID string
	year, month   int
	projection    bool
}

func keyOf(e core.Entry) entryKey {
	return entryKey{e.SubcategoryID, e.Year, e.Month, e.IsProjection}
}

type Store struct {
	mu            sync.Mutex
	companies     map[string]core.Company
	categories    map[string]core.Category
	subcategories map[string]core.Subcategory
	entries       map[string]core.Entry
	byKey         map[entryKey]string
	now           func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		companies:     make(map[string]core.Company),
		categories:    make(map[string]core.Category),
		subcategories: make(map[string]core.Subcategory),
		entries:       make(map[string]core.Entry),
		byKey:         make(map[entryKey]string),
		now:           time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Companies

func (s *Store) GetOrCreateCompany(_ context.Context, name, description string) (core.Company, error) {
	if name == "" {
		return core.Company{}, fmt.Errorf("%w: company name is empty", core.ErrInvalidValue)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.Name == name {
			return c, nil
		}
	}
	c := core.Company{ID: uuid.NewString(), Name: name, Description: description, CreatedAt: s.now().UTC()}
	s.companies[c.ID] = c
	return c, nil
}

func (s *Store) GetCompanyByName(_ context.Context, name string) (core.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.Name == name {
			return c, nil
		}
	}
	return core.Company{}, fmt.Errorf("company %q: %w", name, core.ErrNotFound)
}

// Categories

func (s *Store) ListCategories(_ context.Context, companyID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[c.CompanyID]; !ok {
		return core.Category{}, fmt.Errorf("company %s: %w", c.CompanyID, core.ErrNotFound)
	}
	if c.ParentID != nil {
		if _, ok := s.categories[*c.ParentID]; !ok {
			return core.Category{}, fmt.Errorf("parent category %s: %w", *c.ParentID, core.ErrNotFound)
		}
	}
	if s.categoryNameTaken(c.CompanyID, c.Name, "") {
		return core.Category{}, fmt.Errorf("category %q: %w", c.Name, core.ErrConflict)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; !ok {
		return core.Category{}, fmt.Errorf("category %s: %w", c.ID, core.ErrNotFound)
	}
	if s.categoryNameTaken(c.CompanyID, c.Name, c.ID) {
		return core.Category{}, fmt.Errorf("category %q: %w", c.Name, core.ErrConflict)
	}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) categoryNameTaken(companyID, name, exceptID string) bool {
	for _, other := range s.categories {
		if other.CompanyID == companyID && other.Name == name && other.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) DeleteCategory(_ context.Context, id string) (storage.DeleteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return storage.DeleteStats{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}

	doomed := []string{id}
	for _, c := range s.categories {
		if c.ParentID != nil && *c.ParentID == id {
			doomed = append(doomed, c.ID)
		}
	}

	var stats storage.DeleteStats
	for _, catID := range doomed {
		for subID, sub := range s.subcategories {
			if sub.CategoryID == catID {
				stats.Entries += s.deleteEntriesLocked(func(e core.Entry) bool { return e.SubcategoryID == subID })
				delete(s.subcategories, subID)
				stats.Subcategories++
			}
		}
		delete(s.categories, catID)
		stats.Categories++
	}
	return stats, nil
}

// Subcategories

func (s *Store) ListSubcategories(_ context.Context, categoryID string) ([]core.Subcategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Subcategory
	for _, sub := range s.subcategories {
		if sub.CategoryID == categoryID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetSubcategory(_ context.Context, id string) (core.Subcategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subcategories[id]
	if !ok {
		return core.Subcategory{}, fmt.Errorf("subcategory %s: %w", id, core.ErrNotFound)
	}
	return sub, nil
}

func (s *Store) FindSubcategory(_ context.Context, categoryID, name string) (core.Subcategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subcategories {
		if sub.CategoryID == categoryID && sub.Name == name {
			return sub, nil
		}
	}
	return core.Subcategory{}, fmt.Errorf("subcategory %q: %w", name, core.ErrNotFound)
}

func (s *Store) CreateSubcategory(_ context.Context, sub core.Subcategory) (core.Subcategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[sub.CategoryID]; !ok {
		return core.Subcategory{}, fmt.Errorf("category %s: %w", sub.CategoryID, core.ErrNotFound)
	}
	for _, other := range s.subcategories {
		if other.CategoryID == sub.CategoryID && other.Name == sub.Name {
			return core.Subcategory{}, fmt.Errorf("subcategory %q: %w", sub.Name, core.ErrConflict)
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	s.subcategories[sub.ID] = sub
	return sub, nil
}

func (s *Store) DeleteSubcategory(_ context.Context, id string) (storage.DeleteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subcategories[id]; !ok {
		return storage.DeleteStats{}, fmt.Errorf("subcategory %s: %w", id, core.ErrNotFound)
	}
	n := s.deleteEntriesLocked(func(e core.Entry) bool { return e.SubcategoryID == id })
	delete(s.subcategories, id)
	return storage.DeleteStats{Subcategories: 1, Entries: n}, nil
}

// Entries

func (s *Store) UpsertEntry(_ context.Context, e core.Entry) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subcategories[e.SubcategoryID]; !ok {
		return core.Entry{}, fmt.Errorf("subcategory %s: %w", e.SubcategoryID, core.ErrNotFound)
	}
	now := s.now().UTC()
	if id, ok := s.byKey[keyOf(e)]; ok {
		existing := s.entries[id]
		existing.Value = e.Value
		existing.Notes = e.Notes
		existing.UpdatedAt = now
		s.entries[id] = existing
		return existing, nil
	}
	e.ID = uuid.NewString()
	e.CreatedAt, e.UpdatedAt = now, now
	s.entries[e.ID] = e
	s.byKey[keyOf(e)] = e.ID
	return e, nil
}

func (s *Store) GetEntry(_ context.Context, id string) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) UpdateEntry(_ context.Context, e core.Entry) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.entries[e.ID]
	if !ok {
		return core.Entry{}, fmt.Errorf("entry %s: %w", e.ID, core.ErrNotFound)
	}
	if _, ok := s.subcategories[e.SubcategoryID]; !ok {
		return core.Entry{}, fmt.Errorf("subcategory %s: %w", e.SubcategoryID, core.ErrNotFound)
	}
	if other, ok := s.byKey[keyOf(e)]; ok && other != e.ID {
		return core.Entry{}, fmt.Errorf("entry %s %s: %w", e.SubcategoryID, e.Period(), core.ErrConflict)
	}
	delete(s.byKey, keyOf(old))
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = s.now().UTC()
	s.entries[e.ID] = e
	s.byKey[keyOf(e)] = e.ID
	return e, nil
}

func (s *Store) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	delete(s.entries, id)
	delete(s.byKey, keyOf(e))
	return nil
}

func (s *Store) QueryLines(_ context.Context, f core.EntryFilter) ([]core.LedgerLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type ordered struct {
		line               core.LedgerLine
		catOrder, subOrder int
	}
	var rows []ordered
	for _, e := range s.entries {
		sub := s.subcategories[e.SubcategoryID]
		cat := s.categories[sub.CategoryID]
		if !matches(f, e, cat) {
			continue
		}
		rows = append(rows, ordered{
			line: core.LedgerLine{
				Entry:           e,
				SubcategoryName: sub.Name,
				CategoryID:      cat.ID,
				CategoryName:    cat.Name,
				Kind:            cat.Kind,
			},
			catOrder: cat.SortOrder,
			subOrder: sub.SortOrder,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.line.Year != b.line.Year:
			return a.line.Year > b.line.Year
		case a.line.Month != b.line.Month:
			return a.line.Month > b.line.Month
		case a.catOrder != b.catOrder:
			return a.catOrder < b.catOrder
		case a.line.CategoryName != b.line.CategoryName:
			return a.line.CategoryName < b.line.CategoryName
		case a.subOrder != b.subOrder:
			return a.subOrder < b.subOrder
		case a.line.SubcategoryName != b.line.SubcategoryName:
			return a.line.SubcategoryName < b.line.SubcategoryName
		}
		return !a.line.IsProjection && b.line.IsProjection
	})

	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	out := make([]core.LedgerLine, len(rows))
	for i, r := range rows {
		out[i] = r.line
	}
	return out, nil
}

func matches(f core.EntryFilter, e core.Entry, cat core.Category) bool {
	switch {
	case f.CompanyID != nil && cat.CompanyID != *f.CompanyID:
		return false
	case f.CategoryID != nil && cat.ID != *f.CategoryID:
		return false
	case f.SubcategoryID != nil && e.SubcategoryID != *f.SubcategoryID:
		return false
	case f.Year != nil && e.Year != *f.Year:
		return false
	case f.Month != nil && e.Month != *f.Month:
		return false
	case f.IsProjection != nil && e.IsProjection != *f.IsProjection:
		return false
	}
	return true
}

func (s *Store) DeleteEntriesBySubcategory(_ context.Context, subcategoryID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntriesLocked(func(e core.Entry) bool { return e.SubcategoryID == subcategoryID }), nil
}

func (s *Store) DeleteEntriesByCompany(_ context.Context, companyID string, year *int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntriesLocked(func(e core.Entry) bool {
		if year != nil && e.Year != *year {
			return false
		}
		return s.companyOf(e) == companyID
	}), nil
}

func (s *Store) DeleteZeroEntries(_ context.Context, companyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntriesLocked(func(e core.Entry) bool {
		return e.Value.IsZero() && s.companyOf(e) == companyID
	}), nil
}

func (s *Store) companyOf(e core.Entry) string {
	sub := s.subcategories[e.SubcategoryID]
	return s.categories[sub.CategoryID].CompanyID
}

func (s *Store) deleteEntriesLocked(match func(core.Entry) bool) int64 {
	var n int64
	for id, e := range s.entries {
		if match(e) {
			delete(s.entries, id)
			delete(s.byKey, keyOf(e))
			n++
		}
	}
	return n
}
