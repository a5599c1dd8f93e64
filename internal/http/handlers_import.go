package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"orti/internal/amqp"
	"orti/internal/core"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/sheets/xlsx"
)

type bulkImportRequest struct {
	Groups []importer.Group `json:"groups" validate:"required,min=1,dive"`
}

type importJobRequest struct {
	Source        string   `json:"source" validate:"required,oneof=xlsx sheets"`
	Path          string   `json:"path" validate:"required_if=Source xlsx"`
	SpreadsheetID string   `json:"spreadsheet_id"`
	Ranges        []string `json:"ranges"`
	Sheets        []string `json:"sheets"`
	Year          int      `json:"year" validate:"omitempty,min=1900,max=9999"`
	Cutoff        string   `json:"cutoff"`
	IsProjection  *bool    `json:"is_projection"`
}

type jobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleImportXLSX imports an uploaded workbook (or CSV export) in the
// request. Form fields: file, sheet (repeatable), year, cutoff (YYYY-MM),
// is_projection.
func (s *Server) handleImportXLSX(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: file: %v", errBadRequest, err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read upload: %v", errBadRequest, err))
		return
	}

	year := 0
	if v := strings.TrimSpace(r.FormValue("year")); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: year %q is not a number", errBadRequest, v))
			return
		}
	}
	cutoff, err := parseCutoff(r.FormValue("cutoff"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cutoff == nil {
		cutoff = s.opts.ProjectionCutoff
	}
	var explicit *bool
	if v := strings.TrimSpace(r.FormValue("is_projection")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: is_projection %q is not a boolean", errBadRequest, v))
			return
		}
		explicit = &b
	}

	c, err := s.company(ctx, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	src := xlsx.NewBytes(header.Filename, data, r.MultipartForm.Value["sheet"]...)
	rep, err := s.svc.Importer.Import(ctx, src, importer.Options{
		CompanyID: c.ID,
		Layout:    importer.DetectHeader(year),
		Policy:    importer.ChoosePolicy(explicit, cutoff, s.now()),
		Notes:     "upload " + sanitizeInput(header.Filename),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.importsRun, 1)
	s.svc.Reports.Invalidate(c.ID)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleImportBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bulkImportRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.svc.Importer.ImportGroups(ctx, c.ID, req.Groups, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.importsRun, 1)
	s.svc.Reports.Invalidate(c.ID)
	writeJSON(w, http.StatusOK, rep)
}

// handleEnqueueImport publishes an import job for the worker and answers
// 202 with its id.
func (s *Server) handleEnqueueImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.svc.Jobs == nil {
		s.writeError(w, r, fmt.Errorf("%w: AMQP is not configured", errQueueUnavailable))
		return
	}
	var req importJobRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cutoff, err := parseCutoff(req.Cutoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msg := amqp.NewImportJobMessage(c.Name, req.Source)
	msg.Path = req.Path
	msg.SpreadsheetID = req.SpreadsheetID
	msg.Ranges = req.Ranges
	msg.Sheets = req.Sheets
	msg.Year = req.Year
	msg.ExplicitProjection = req.IsProjection
	if cutoff != nil {
		msg.CutoffYear, msg.CutoffMonth = cutoff.Year, cutoff.Month
	}
	if err := msg.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.svc.Jobs.PublishImportJob(ctx, msg); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errQueueUnavailable, err))
		return
	}
	atomic.AddInt64(&s.appMetrics.jobsQueued, 1)
	applog.FromContext(ctx).InfoContext(ctx, "Import job queued",
		applog.FieldJobID, msg.JobID,
		applog.FieldCompany, c.Name,
		"source", msg.Source)
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: msg.JobID, Status: "queued"})
}

type consolidateRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type consolidationResponse struct {
	CompanyID     string         `json:"company_id"`
	Period        core.Period    `json:"period"`
	Promoted      []core.Entry   `json:"promoted"`
	AlreadyActual int            `json:"already_actual"`
	Failed        []batchFailure `json:"failed"`
}

// handleConsolidateMonth turns the month's remaining projections into
// actuals. The JSON body with notes is optional.
func (s *Server) handleConsolidateMonth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := pathInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	month, err := pathInt(r, "month")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req consolidateRequest
	if r.ContentLength != 0 {
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Ledger.ConsolidateMonth(ctx, c.ID, year, month, sanitizeInput(req.Notes))
	if len(res.Promoted) > 0 {
		atomic.AddInt64(&s.appMetrics.entriesWritten, int64(len(res.Promoted)))
		s.svc.Reports.Invalidate(c.ID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	failed := newBatchResponse(ledger.BatchResult{Failed: res.Failed}).Failed
	writeJSON(w, http.StatusOK, consolidationResponse{
		CompanyID:     res.CompanyID,
		Period:        res.Period,
		Promoted:      res.Promoted,
		AlreadyActual: res.AlreadyActual,
		Failed:        failed,
	})
}

type deletedResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.Ledger.Cleanup(ctx, c.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(c.ID)
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.Ledger.ResetCompany(ctx, c.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(c.ID)
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *Server) handleDeleteYear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := pathInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.Ledger.DeleteByCompanyAndYear(ctx, c.ID, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(c.ID)
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}
