// Package postgres implements the ledger store on PostgreSQL through a pgx
// connection pool. Amounts live in NUMERIC columns and travel as text so no
// precision is lost.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/storage"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *applog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects to databaseURL, applies migrations and returns a ready store.
func Open(ctx context.Context, databaseURL string, logger *applog.Logger) (*Store, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentStorage)

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w: %v", core.ErrBackingStoreUnavailable, err)
	}
	if err := RunMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.InfoContext(ctx, "PostgreSQL ledger store ready", "max_conns", pool.Config().MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w: %v", core.ErrBackingStoreUnavailable, err)
	}
	return nil
}

func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: %s", what, core.ErrConflict, pgErr.Detail)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced row: %w", what, core.ErrNotFound)
		case "23514", "22P02", "22003": // check_violation, invalid_text_representation, numeric_value_out_of_range
			return fmt.Errorf("%s: %w: %s", what, core.ErrInvalidValue, pgErr.Message)
		}
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", what, core.ErrBackingStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Companies

func (s *Store) GetOrCreateCompany(ctx context.Context, name, description string) (core.Company, error) {
	if name == "" {
		return core.Company{}, fmt.Errorf("%w: company name is empty", core.ErrInvalidValue)
	}
	var c core.Company
	err := s.pool.QueryRow(ctx, `
		INSERT INTO companies (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, description, created_at`,
		uuid.NewString(), name, description).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		return core.Company{}, mapError(err, "get or create company")
	}
	return c, nil
}

func (s *Store) GetCompanyByName(ctx context.Context, name string) (core.Company, error) {
	var c core.Company
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM companies WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		return core.Company{}, mapError(err, fmt.Sprintf("company %q", name))
	}
	return c, nil
}

// Categories

const categoryColumns = `id, company_id, name, kind, parent_id, sort_order, is_total, is_calculated`

func scanCategory(row pgx.Row) (core.Category, error) {
	var (
		c    core.Category
		kind string
	)
	if err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &kind, &c.ParentID, &c.SortOrder, &c.IsTotal, &c.IsCalculated); err != nil {
		return core.Category{}, err
	}
	c.Kind = core.Kind(kind)
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context, companyID string) ([]core.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE company_id = $1 ORDER BY sort_order, name`, companyID)
	if err != nil {
		return nil, mapError(err, "list categories")
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, mapError(err, "scan category")
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err(), "list categories")
}

func (s *Store) GetCategory(ctx context.Context, id string) (core.Category, error) {
	c, err := scanCategory(s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		return core.Category{}, mapError(err, "category "+id)
	}
	return c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.CompanyID, c.Name, string(c.Kind), c.ParentID, c.SortOrder, c.IsTotal, c.IsCalculated)
	if err != nil {
		return core.Category{}, mapError(err, fmt.Sprintf("create category %q", c.Name))
	}
	return c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	updated, err := scanCategory(s.pool.QueryRow(ctx, `
		UPDATE categories SET name = $1, sort_order = $2, is_total = $3, is_calculated = $4
		WHERE id = $5
		RETURNING `+categoryColumns,
		c.Name, c.SortOrder, c.IsTotal, c.IsCalculated, c.ID))
	if err != nil {
		return core.Category{}, mapError(err, "update category "+c.ID)
	}
	return updated, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) (storage.DeleteStats, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "begin delete category")
	}
	defer tx.Rollback(ctx)

	var stats storage.DeleteStats
	err = tx.QueryRow(ctx, `
		WITH doomed AS (SELECT id FROM categories WHERE id = $1 OR parent_id = $1)
		SELECT
			(SELECT COUNT(*) FROM doomed),
			(SELECT COUNT(*) FROM subcategories WHERE category_id IN (SELECT id FROM doomed)),
			(SELECT COUNT(*) FROM financial_entries WHERE subcategory_id IN (
				SELECT id FROM subcategories WHERE category_id IN (SELECT id FROM doomed)))`,
		id).Scan(&stats.Categories, &stats.Subcategories, &stats.Entries)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "count category rows")
	}
	if stats.Categories == 0 {
		return storage.DeleteStats{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id); err != nil {
		return storage.DeleteStats{}, mapError(err, "delete category")
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.DeleteStats{}, mapError(err, "commit delete category")
	}

	s.logger.InfoContext(ctx, "Category deleted",
		applog.FieldOperation, applog.OpDelete,
		"category_id", id,
		"categories", stats.Categories,
		"subcategories", stats.Subcategories,
		"entries", stats.Entries)
	return stats, nil
}

// Subcategories

func (s *Store) ListSubcategories(ctx context.Context, categoryID string) ([]core.Subcategory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category_id, name, sort_order FROM subcategories
		WHERE category_id = $1 ORDER BY sort_order, name`, categoryID)
	if err != nil {
		return nil, mapError(err, "list subcategories")
	}
	defer rows.Close()

	var out []core.Subcategory
	for rows.Next() {
		var sub core.Subcategory
		if err := rows.Scan(&sub.ID, &sub.CategoryID, &sub.Name, &sub.SortOrder); err != nil {
			return nil, mapError(err, "scan subcategory")
		}
		out = append(out, sub)
	}
	return out, mapError(rows.Err(), "list subcategories")
}

func (s *Store) GetSubcategory(ctx context.Context, id string) (core.Subcategory, error) {
	var sub core.Subcategory
	err := s.pool.QueryRow(ctx,
		`SELECT id, category_id, name, sort_order FROM subcategories WHERE id = $1`, id).
		Scan(&sub.ID, &sub.CategoryID, &sub.Name, &sub.SortOrder)
	if err != nil {
		return core.Subcategory{}, mapError(err, "subcategory "+id)
	}
	return sub, nil
}

func (s *Store) FindSubcategory(ctx context.Context, categoryID, name string) (core.Subcategory, error) {
	var sub core.Subcategory
	err := s.pool.QueryRow(ctx,
		`SELECT id, category_id, name, sort_order FROM subcategories WHERE category_id = $1 AND name = $2`,
		categoryID, name).
		Scan(&sub.ID, &sub.CategoryID, &sub.Name, &sub.SortOrder)
	if err != nil {
		return core.Subcategory{}, mapError(err, fmt.Sprintf("subcategory %q", name))
	}
	return sub, nil
}

func (s *Store) CreateSubcategory(ctx context.Context, sub core.Subcategory) (core.Subcategory, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subcategories (id, category_id, name, sort_order) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.CategoryID, sub.Name, sub.SortOrder)
	if err != nil {
		return core.Subcategory{}, mapError(err, fmt.Sprintf("create subcategory %q", sub.Name))
	}
	return sub, nil
}

func (s *Store) DeleteSubcategory(ctx context.Context, id string) (storage.DeleteStats, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "begin delete subcategory")
	}
	defer tx.Rollback(ctx)

	var entries int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM financial_entries WHERE subcategory_id = $1`, id).Scan(&entries); err != nil {
		return storage.DeleteStats{}, mapError(err, "count subcategory entries")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM subcategories WHERE id = $1`, id)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "delete subcategory")
	}
	if tag.RowsAffected() == 0 {
		return storage.DeleteStats{}, fmt.Errorf("subcategory %s: %w", id, core.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.DeleteStats{}, mapError(err, "commit delete subcategory")
	}
	return storage.DeleteStats{Subcategories: 1, Entries: entries}, nil
}

// Entries

const entryReturning = `RETURNING id, subcategory_id, year, month, value::text, is_projection, notes, created_at, updated_at`

func scanEntry(row pgx.Row) (core.Entry, error) {
	var (
		e     core.Entry
		value string
	)
	if err := row.Scan(&e.ID, &e.SubcategoryID, &e.Year, &e.Month, &value, &e.IsProjection, &e.Notes, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return core.Entry{}, err
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return core.Entry{}, fmt.Errorf("entry %s value %q: %w", e.ID, value, err)
	}
	e.Value = d
	return e, nil
}

func (s *Store) UpsertEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	out, err := scanEntry(s.pool.QueryRow(ctx, `
		INSERT INTO financial_entries (id, subcategory_id, year, month, value, is_projection, notes)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		ON CONFLICT (subcategory_id, year, month, is_projection) DO UPDATE SET
			value = EXCLUDED.value,
			notes = EXCLUDED.notes,
			updated_at = now()
		`+entryReturning,
		uuid.NewString(), e.SubcategoryID, e.Year, e.Month, e.Value.String(), e.IsProjection, e.Notes))
	if err != nil {
		return core.Entry{}, mapError(err, fmt.Sprintf("upsert entry %s %s", e.SubcategoryID, e.Period()))
	}
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT id, subcategory_id, year, month, value::text, is_projection, notes, created_at, updated_at
		FROM financial_entries WHERE id = $1`, id))
	if err != nil {
		return core.Entry{}, mapError(err, "entry "+id)
	}
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	out, err := scanEntry(s.pool.QueryRow(ctx, `
		UPDATE financial_entries SET
			subcategory_id = $1, year = $2, month = $3, value = $4::numeric,
			is_projection = $5, notes = $6, updated_at = $7
		WHERE id = $8
		`+entryReturning,
		e.SubcategoryID, e.Year, e.Month, e.Value.String(), e.IsProjection, e.Notes, time.Now().UTC(), e.ID))
	if err != nil {
		return core.Entry{}, mapError(err, "update entry "+e.ID)
	}
	return out, nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM financial_entries WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete entry "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) QueryLines(ctx context.Context, f core.EntryFilter) ([]core.LedgerLine, error) {
	where, args := storage.WhereEntries(f, storage.Dollar, func(b bool) any { return b })
	rows, err := s.pool.Query(ctx, storage.LinesQuery("e.value::text")+where, args...)
	if err != nil {
		return nil, mapError(err, "query entries")
	}
	defer rows.Close()

	var out []core.LedgerLine
	for rows.Next() {
		var (
			l     core.LedgerLine
			value string
			kind  string
		)
		if err := rows.Scan(&l.ID, &l.SubcategoryID, &l.Year, &l.Month, &value, &l.IsProjection, &l.Notes,
			&l.CreatedAt, &l.UpdatedAt, &l.SubcategoryName, &l.CategoryID, &l.CategoryName, &kind); err != nil {
			return nil, mapError(err, "scan entry")
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("entry %s value %q: %w", l.ID, value, err)
		}
		l.Value = d
		l.Kind = core.Kind(kind)
		out = append(out, l)
	}
	return out, mapError(rows.Err(), "query entries")
}

const companySubcategories = `subcategory_id IN (
	SELECT s.id FROM subcategories s JOIN categories c ON c.id = s.category_id WHERE c.company_id = $1)`

func (s *Store) DeleteEntriesBySubcategory(ctx context.Context, subcategoryID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM financial_entries WHERE subcategory_id = $1`, subcategoryID)
	if err != nil {
		return 0, mapError(err, "delete subcategory entries")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteEntriesByCompany(ctx context.Context, companyID string, year *int) (int64, error) {
	query := `DELETE FROM financial_entries WHERE ` + companySubcategories
	args := []any{companyID}
	if year != nil {
		query += ` AND year = $2`
		args = append(args, *year)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "delete company entries")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteZeroEntries(ctx context.Context, companyID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM financial_entries WHERE value = 0 AND `+companySubcategories, companyID)
	if err != nil {
		return 0, mapError(err, "delete zero entries")
	}
	return tag.RowsAffected(), nil
}
