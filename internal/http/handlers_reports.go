package http

import (
	"net/http"

	"orti/internal/core"
	"orti/internal/report"
)

// varianceResponse adds the presentation order to the report.
type varianceResponse struct {
	core.VarianceReport
	Ranked []report.RankedVariance `json:"ranked"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := pathInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	include, err := queryBool(r.URL.Query(), "include_projections")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sum, err := s.svc.Reports.Summarize(ctx, c.ID, year, include == nil || *include)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleVariance(w http.ResponseWriter, r *http.Request) {
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
	threshold, err := queryDecimal(r.URL.Query(), "threshold", s.opts.VarianceThreshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	v, err := s.svc.Reports.AnalyzeVariance(ctx, c.ID, year, month, threshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, varianceResponse{VarianceReport: v, Ranked: report.Ranked(v)})
}

func (s *Server) handleMonthlyData(w http.ResponseWriter, r *http.Request) {
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
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := s.svc.Reports.MonthlyData(ctx, c.ID, year, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleDataSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, err := queryInt(r.URL.Query(), "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sum, err := s.svc.Reports.DataTypeSummary(ctx, c.ID, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
