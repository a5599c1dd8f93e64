// Package sqlite implements the ledger store on an embedded SQLite file
// through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/storage"
)

type Store struct {
	db     *sql.DB
	logger *applog.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// DSN enables foreign keys (needed for cascades) and a busy timeout on every
// pooled connection.
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open creates the database directory if needed, applies migrations and
// returns a ready store.
func Open(ctx context.Context, path string, logger *applog.Logger) (*Store, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentStorage)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := DSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
	// under concurrent batch upserts.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w: %v", core.ErrBackingStoreUnavailable, err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.InfoContext(ctx, "SQLite ledger store ready", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w: %v", core.ErrBackingStoreUnavailable, err)
	}
	return nil
}

// mapError translates driver failures into the core error taxonomy.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w: %v", what, core.ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: referenced row: %w", what, core.ErrNotFound)
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%s: %w: %v", what, core.ErrInvalidValue, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%s: %w: %v", what, core.ErrBackingStoreUnavailable, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", what, core.ErrBackingStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Companies

func (s *Store) GetOrCreateCompany(ctx context.Context, name, description string) (core.Company, error) {
	if name == "" {
		return core.Company{}, fmt.Errorf("%w: company name is empty", core.ErrInvalidValue)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), name, description, s.now().UTC())
	if err != nil {
		return core.Company{}, mapError(err, "create company")
	}
	return s.GetCompanyByName(ctx, name)
}

func (s *Store) GetCompanyByName(ctx context.Context, name string) (core.Company, error) {
	var c core.Company
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM companies WHERE name = ?`, name).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		return core.Company{}, mapError(err, fmt.Sprintf("company %q", name))
	}
	return c, nil
}

// Categories

const categoryColumns = `id, company_id, name, kind, parent_id, sort_order, is_total, is_calculated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (core.Category, error) {
	var (
		c      core.Category
		kind   string
		parent sql.NullString
	)
	if err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &kind, &parent, &c.SortOrder, &c.IsTotal, &c.IsCalculated); err != nil {
		return core.Category{}, err
	}
	c.Kind = core.Kind(kind)
	if parent.Valid {
		c.ParentID = &parent.String
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context, companyID string) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE company_id = ? ORDER BY sort_order, name`, companyID)
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
	c, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		return core.Category{}, mapError(err, "category "+id)
	}
	return c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CompanyID, c.Name, string(c.Kind), c.ParentID, c.SortOrder, c.IsTotal, c.IsCalculated)
	if err != nil {
		return core.Category{}, mapError(err, fmt.Sprintf("create category %q", c.Name))
	}
	return c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, sort_order = ?, is_total = ?, is_calculated = ?
		WHERE id = ?`,
		c.Name, c.SortOrder, c.IsTotal, c.IsCalculated, c.ID)
	if err != nil {
		return core.Category{}, mapError(err, fmt.Sprintf("update category %q", c.Name))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Category{}, fmt.Errorf("category %s: %w", c.ID, core.ErrNotFound)
	}
	return s.GetCategory(ctx, c.ID)
}

func (s *Store) DeleteCategory(ctx context.Context, id string) (storage.DeleteStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "begin delete category")
	}
	defer tx.Rollback()

	var stats storage.DeleteStats
	err = tx.QueryRowContext(ctx, `
		WITH doomed AS (SELECT id FROM categories WHERE id = ? OR parent_id = ?)
		SELECT
			(SELECT COUNT(*) FROM doomed),
			(SELECT COUNT(*) FROM subcategories WHERE category_id IN (SELECT id FROM doomed)),
			(SELECT COUNT(*) FROM financial_entries WHERE subcategory_id IN (
				SELECT id FROM subcategories WHERE category_id IN (SELECT id FROM doomed)))`,
		id, id).Scan(&stats.Categories, &stats.Subcategories, &stats.Entries)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "count category rows")
	}
	if stats.Categories == 0 {
		return storage.DeleteStats{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return storage.DeleteStats{}, mapError(err, "delete category")
	}
	if err := tx.Commit(); err != nil {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, name, sort_order FROM subcategories
		WHERE category_id = ? ORDER BY sort_order, name`, categoryID)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category_id, name, sort_order FROM subcategories WHERE id = ?`, id).
		Scan(&sub.ID, &sub.CategoryID, &sub.Name, &sub.SortOrder)
	if err != nil {
		return core.Subcategory{}, mapError(err, "subcategory "+id)
	}
	return sub, nil
}

func (s *Store) FindSubcategory(ctx context.Context, categoryID, name string) (core.Subcategory, error) {
	var sub core.Subcategory
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category_id, name, sort_order FROM subcategories WHERE category_id = ? AND name = ?`,
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subcategories (id, category_id, name, sort_order) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.CategoryID, sub.Name, sub.SortOrder)
	if err != nil {
		return core.Subcategory{}, mapError(err, fmt.Sprintf("create subcategory %q", sub.Name))
	}
	return sub, nil
}

func (s *Store) DeleteSubcategory(ctx context.Context, id string) (storage.DeleteStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "begin delete subcategory")
	}
	defer tx.Rollback()

	var entries int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM financial_entries WHERE subcategory_id = ?`, id).Scan(&entries); err != nil {
		return storage.DeleteStats{}, mapError(err, "count subcategory entries")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM subcategories WHERE id = ?`, id)
	if err != nil {
		return storage.DeleteStats{}, mapError(err, "delete subcategory")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.DeleteStats{}, fmt.Errorf("subcategory %s: %w", id, core.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return storage.DeleteStats{}, mapError(err, "commit delete subcategory")
	}
	return storage.DeleteStats{Subcategories: 1, Entries: entries}, nil
}

// Entries

func (s *Store) UpsertEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	now := s.now().UTC()
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO financial_entries
			(id, subcategory_id, year, month, value, is_projection, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subcategory_id, year, month, is_projection) DO UPDATE SET
			value = excluded.value,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), e.SubcategoryID, e.Year, e.Month, e.Value.String(), e.IsProjection, e.Notes, now, now).
		Scan(&id)
	if err != nil {
		return core.Entry{}, mapError(err, fmt.Sprintf("upsert entry %s %s", e.SubcategoryID, e.Period()))
	}
	return s.GetEntry(ctx, id)
}

const entryColumns = `id, subcategory_id, year, month, value, is_projection, notes, created_at, updated_at`

func scanEntry(row rowScanner) (core.Entry, error) {
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

func (s *Store) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM financial_entries WHERE id = ?`, id))
	if err != nil {
		return core.Entry{}, mapError(err, "entry "+id)
	}
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE financial_entries SET
			subcategory_id = ?, year = ?, month = ?, value = ?, is_projection = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		e.SubcategoryID, e.Year, e.Month, e.Value.String(), e.IsProjection, e.Notes, s.now().UTC(), e.ID)
	if err != nil {
		return core.Entry{}, mapError(err, "update entry "+e.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Entry{}, fmt.Errorf("entry %s: %w", e.ID, core.ErrNotFound)
	}
	return s.GetEntry(ctx, e.ID)
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM financial_entries WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete entry "+id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) QueryLines(ctx context.Context, f core.EntryFilter) ([]core.LedgerLine, error) {
	where, args := storage.WhereEntries(f, storage.Question, func(b bool) any { return b })
	rows, err := s.db.QueryContext(ctx, storage.LinesQuery("e.value")+where, args...)
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
	SELECT s.id FROM subcategories s JOIN categories c ON c.id = s.category_id WHERE c.company_id = ?)`

func (s *Store) DeleteEntriesBySubcategory(ctx context.Context, subcategoryID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM financial_entries WHERE subcategory_id = ?`, subcategoryID)
	if err != nil {
		return 0, mapError(err, "delete subcategory entries")
	}
	return res.RowsAffected()
}

func (s *Store) DeleteEntriesByCompany(ctx context.Context, companyID string, year *int) (int64, error) {
	query := `DELETE FROM financial_entries WHERE ` + companySubcategories
	args := []any{companyID}
	if year != nil {
		query += ` AND year = ?`
		args = append(args, *year)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "delete company entries")
	}
	return res.RowsAffected()
}

func (s *Store) DeleteZeroEntries(ctx context.Context, companyID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM financial_entries WHERE CAST(value AS REAL) = 0 AND `+companySubcategories, companyID)
	if err != nil {
		return 0, mapError(err, "delete zero entries")
	}
	return res.RowsAffected()
}
