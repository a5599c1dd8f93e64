// Package ledger is the write and query surface over financial entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/storage"
)

const DefaultConcurrency = 4

type Service struct {
	store       storage.EntryRepository
	concurrency int
	logger      *applog.Logger
}

func NewService(store storage.EntryRepository, concurrency int, logger *applog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Service{
		store:       store,
		concurrency: concurrency,
		logger:      logger.WithComponent(applog.ComponentLedger),
	}
}

// EntryFailure is one rejected entry of a batch.
type EntryFailure struct {
	Index int        `json:"index"`
	Entry core.Entry `json:"entry"`
	Err   error      `json:"-"`
}

func (f EntryFailure) Error() string {
	return fmt.Sprintf("entry %d (%s %s): %v", f.Index, f.Entry.SubcategoryID, f.Entry.Period(), f.Err)
}

func (f EntryFailure) Unwrap() error { return f.Err }

// BatchResult keeps input order in both slices.
type BatchResult struct {
	Applied []core.Entry   `json:"applied"`
	Failed  []EntryFailure `json:"failed"`
}

// StoreErr returns the first failure caused by an unreachable store, or nil
// when every failure belongs to its own entry.
func (r BatchResult) StoreErr() error {
	for _, f := range r.Failed {
		if errors.Is(f.Err, core.ErrBackingStoreUnavailable) {
			return f
		}
	}
	return nil
}

// Upsert records the value for one natural key, replacing any previous one.
func (s *Service) Upsert(ctx context.Context, subcategoryID string, year, month int, value decimal.Decimal, isProjection bool, notes string) (core.Entry, error) {
	return s.upsert(ctx, core.Entry{
		SubcategoryID: subcategoryID,
		Year:          year,
		Month:         month,
		Value:         value,
		IsProjection:  isProjection,
		Notes:         strings.TrimSpace(notes),
	})
}

func (s *Service) upsert(ctx context.Context, e core.Entry) (core.Entry, error) {
	if err := e.Validate(); err != nil {
		return core.Entry{}, err
	}
	saved, err := s.store.UpsertEntry(ctx, e)
	if err != nil {
		return core.Entry{}, fmt.Errorf("upsert entry: %w", err)
	}
	return saved, nil
}

// BatchUpsert applies every entry independently; a failing entry never
// stops the rest.
func (s *Service) BatchUpsert(ctx context.Context, entries []core.Entry) BatchResult {
	saved := make([]core.Entry, len(entries))
	errs := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			saved[i], errs[i] = s.upsert(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for i, err := range errs {
		if err != nil {
			res.Failed = append(res.Failed, EntryFailure{Index: i, Entry: entries[i], Err: err})
			continue
		}
		res.Applied = append(res.Applied, saved[i])
	}

	if len(res.Failed) > 0 {
		s.logger.WarnContext(ctx, "Batch upsert finished with failures",
			applog.FieldOperation, applog.OpUpsert,
			"applied", len(res.Applied),
			"failed", len(res.Failed),
			applog.FieldError, res.Failed[0].Error())
	} else {
		s.logger.DebugContext(ctx, "Batch upsert finished",
			applog.FieldOperation, applog.OpUpsert,
			"applied", len(res.Applied))
	}
	return res
}

func (s *Service) Get(ctx context.Context, id string) (core.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// Update patches an entry by id. The patched entry is validated before it
// reaches the store.
func (s *Service) Update(ctx context.Context, id string, patch core.EntryPatch) (core.Entry, error) {
	current, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return core.Entry{}, err
	}
	next := patch.Apply(current)
	if err := next.Validate(); err != nil {
		return core.Entry{}, err
	}
	updated, err := s.store.UpdateEntry(ctx, next)
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Entry updated",
		applog.FieldOperation, applog.OpUpdate,
		"entry_id", id)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteEntry(ctx, id)
}

// Query returns the matching entries without classification.
func (s *Service) Query(ctx context.Context, f core.EntryFilter) ([]core.Entry, error) {
	lines, err := s.store.QueryLines(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entry, len(lines))
	for i, l := range lines {
		out[i] = l.Entry
	}
	return out, nil
}

// Lines returns the matching entries with their category and subcategory.
func (s *Service) Lines(ctx context.Context, f core.EntryFilter) ([]core.LedgerLine, error) {
	return s.store.QueryLines(ctx, f)
}

func (s *Service) DeleteBySubcategory(ctx context.Context, subcategoryID string) (int64, error) {
	return s.store.DeleteEntriesBySubcategory(ctx, subcategoryID)
}

func (s *Service) DeleteByCompanyAndYear(ctx context.Context, companyID string, year int) (int64, error) {
	if err := (core.Period{Year: year, Month: 1}).Validate(); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteEntriesByCompany(ctx, companyID, &year)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Entries deleted for year",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldCompany, companyID,
		applog.FieldYear, year,
		applog.FieldCount, n)
	return n, nil
}

// ResetCompany removes every entry of the company and keeps its categories.
func (s *Service) ResetCompany(ctx context.Context, companyID string) (int64, error) {
	n, err := s.store.DeleteEntriesByCompany(ctx, companyID, nil)
	if err != nil {
		return 0, err
	}
	s.logger.WarnContext(ctx, "Company ledger reset",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldCompany, companyID,
		applog.FieldCount, n)
	return n, nil
}

// Cleanup removes zero-valued entries.
func (s *Service) Cleanup(ctx context.Context, companyID string) (int64, error) {
	n, err := s.store.DeleteZeroEntries(ctx, companyID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Zero entries removed",
		applog.FieldOperation, applog.OpCleanup,
		applog.FieldCompany, companyID,
		applog.FieldCount, n)
	return n, nil
}
