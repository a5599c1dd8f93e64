package http

import (
	"context"
	"fmt"
	"net/http"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/taxonomy"
)

type createCategoryRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Type         string  `json:"type" validate:"required"`
	ParentID     *string `json:"parent_id" validate:"omitempty,min=1"`
	SortOrder    int     `json:"sort_order"`
	IsTotal      bool    `json:"is_total"`
	IsCalculated bool    `json:"is_calculated"`
}

type updateCategoryRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=200"`
	SortOrder *int    `json:"sort_order"`
}

type subcategoryRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	SortOrder int    `json:"sort_order"`
}

// company resolves the {company} path segment by name. Writes that seed or
// import create the company on first use; reads require it to exist.
func (s *Server) company(ctx context.Context, r *http.Request, create bool) (core.Company, error) {
	name := sanitizeInput(r.PathValue("company"))
	if name == "" {
		return core.Company{}, fmt.Errorf("%w: company name is required", core.ErrInvalidValue)
	}
	if create {
		return s.svc.Store.GetOrCreateCompany(ctx, name, "")
	}
	return s.svc.Store.GetCompanyByName(ctx, name)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.company(ctx, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nodes, err := s.svc.Taxonomy.Tree(ctx, c.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createCategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	kind, err := core.ParseKind(req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.company(ctx, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.svc.Taxonomy.CreateCategory(ctx, c.ID, taxonomy.CategoryInput{
		Name:         sanitizeInput(req.Name),
		Kind:         kind,
		ParentID:     req.ParentID,
		SortOrder:    req.SortOrder,
		IsTotal:      req.IsTotal,
		IsCalculated: req.IsCalculated,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(c.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSeedCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.company(ctx, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.Taxonomy.SeedDefaultHierarchy(ctx, c.ID, taxonomy.DefaultHierarchy())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(c.ID)

	applog.FromContext(ctx).InfoContext(ctx, "Default hierarchy seeded",
		applog.FieldOperation, applog.OpSeed,
		applog.FieldCompany, c.Name,
		"created_categories", len(report.CreatedCategories),
		"created_subcategories", len(report.CreatedSubcategories))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateCategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Taxonomy.UpdateCategory(ctx, r.PathValue("id"), trimmed(req.Name), req.SortOrder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(updated.CompanyID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	c, err := s.svc.Store.GetCategory(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.svc.Taxonomy.DeleteCategory(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Reports.Invalidate(c.CompanyID)

	applog.FromContext(ctx).WarnContext(ctx, "Category deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldCategory, c.Name,
		"entries", stats.Entries)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateSubcategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req subcategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.Taxonomy.GetOrCreateSubcategory(ctx, r.PathValue("id"), sanitizeInput(req.Name), req.SortOrder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubcategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	sub, err := s.svc.Store.GetSubcategory(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.svc.Taxonomy.DeleteSubcategory(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if c, err := s.svc.Store.GetCategory(ctx, sub.CategoryID); err == nil {
		s.svc.Reports.Invalidate(c.CompanyID)
	} else {
		s.svc.Reports.InvalidateAll()
	}
	writeJSON(w, http.StatusOK, stats)
}

// trimmed is sanitizeInput for optional values.
func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := sanitizeInput(*p)
	return &v
}
