package http

import (
	"net/http"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"orti/internal/core"
	"orti/internal/ledger"
)

type entryRequest struct {
	SubcategoryID string          `json:"subcategory_id" validate:"required"`
	Year          int             `json:"year" validate:"required"`
	Month         int             `json:"month" validate:"required"`
	Value         decimal.Decimal `json:"value"`
	IsProjection  bool            `json:"is_projection"`
	Notes         string          `json:"notes" validate:"max=2000"`
}

func (e entryRequest) entry() core.Entry {
	return core.Entry{
		SubcategoryID: e.SubcategoryID,
		Year:          e.Year,
		Month:         e.Month,
		Value:         e.Value,
		IsProjection:  e.IsProjection,
		Notes:         sanitizeInput(e.Notes),
	}
}

// Entries are not validated here; the ledger rejects bad ones one by one.
type batchRequest struct {
	Entries []entryRequest `json:"entries" validate:"required,min=1,max=5000"`
}

type entryPatchRequest struct {
	Year         *int             `json:"year"`
	Month        *int             `json:"month"`
	Value        *decimal.Decimal `json:"value"`
	IsProjection *bool            `json:"is_projection"`
	Notes        *string          `json:"notes" validate:"omitempty,max=2000"`
}

type batchFailure struct {
	Index int        `json:"index"`
	Entry core.Entry `json:"entry"`
	Error string     `json:"error"`
	Type  string     `json:"type"`
}

type batchResponse struct {
	Applied []core.Entry   `json:"applied"`
	Failed  []batchFailure `json:"failed"`
}

func newBatchResponse(res ledger.BatchResult) batchResponse {
	out := batchResponse{Applied: res.Applied, Failed: make([]batchFailure, 0, len(res.Failed))}
	if out.Applied == nil {
		out.Applied = []core.Entry{}
	}
	for _, f := range res.Failed {
		_, kind := statusFor(f.Err)
		out.Failed = append(out.Failed, batchFailure{Index: f.Index, Entry: f.Entry, Error: f.Err.Error(), Type: kind})
	}
	return out
}

func (s *Server) handleUpsertEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e := req.entry()
	saved, err := s.svc.Ledger.Upsert(r.Context(), e.SubcategoryID, e.Year, e.Month, e.Value, e.IsProjection, e.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesWritten, 1)
	s.svc.Reports.InvalidateAll()
	writeJSON(w, http.StatusOK, saved)
}

// handleBatchUpsert applies every valid entry and reports the rest; one bad
// entry never fails the request.
func (s *Server) handleBatchUpsert(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := make([]core.Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = e.entry()
	}

	res := s.svc.Ledger.BatchUpsert(r.Context(), entries)
	if len(res.Applied) > 0 {
		atomic.AddInt64(&s.appMetrics.entriesWritten, int64(len(res.Applied)))
		s.svc.Reports.InvalidateAll()
	}
	writeJSON(w, http.StatusOK, newBatchResponse(res))
}

func (s *Server) handleQueryEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.EntryFilter{
		SubcategoryID: queryString(q, "subcategory_id"),
		CategoryID:    queryString(q, "category_id"),
	}
	var err error
	if f.Year, err = queryInt(q, "year"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Month, err = queryInt(q, "month"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.IsProjection, err = queryBool(q, "is_projection"); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(q, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit != nil {
		f.Limit = *limit
	}
	if name := queryString(q, "company"); name != nil {
		c, err := s.svc.Store.GetCompanyByName(r.Context(), *name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.CompanyID = &c.ID
	}

	entries, err := s.svc.Ledger.Query(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryPatchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Ledger.Update(r.Context(), r.PathValue("id"), core.EntryPatch{
		Year:         req.Year,
		Month:        req.Month,
		Value:        req.Value,
		IsProjection: req.IsProjection,
		Notes:        trimmed(req.Notes),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.InvalidateAll()
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}
