// Package taxonomy owns a company's category tree: label resolution,
// subcategory get-or-create, seeding and administrative edits.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/storage"
)

const (
	// DefaultSubcategory is the leaf every imported value lands in.
	DefaultSubcategory = "Totale"
	// BalanceSubcategory is the default leaf for non-revenue categories
	// created through the admin surface.
	BalanceSubcategory = "Saldo"
)

type Tree struct {
	repo   storage.CategoryRepository
	logger *applog.Logger
}

func NewTree(repo storage.CategoryRepository, logger *applog.Logger) *Tree {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Tree{repo: repo, logger: logger.WithComponent(applog.ComponentTaxonomy)}
}

// Node is a category with its leaves and its children.
type Node struct {
	core.Category
	Subcategories []core.Subcategory `json:"subcategories"`
	Children      []Node             `json:"children,omitempty"`
}

// CategoryInput carries an administrative create request.
type CategoryInput struct {
	Name         string
	Kind         core.Kind
	ParentID     *string
	SortOrder    int
	IsTotal      bool
	IsCalculated bool
}

// Categories returns the flat list used by Resolve.
func (t *Tree) Categories(ctx context.Context, companyID string) ([]core.Category, error) {
	return t.repo.ListCategories(ctx, companyID)
}

// Resolve maps a free-text label to one of the company's categories.
func (t *Tree) Resolve(ctx context.Context, companyID, label string) (core.Category, error) {
	cats, err := t.repo.ListCategories(ctx, companyID)
	if err != nil {
		return core.Category{}, fmt.Errorf("list categories: %w", err)
	}
	return Match(cats, label)
}

// GetOrCreateSubcategory returns the named leaf of categoryID, creating it
// when missing. A concurrent create that wins the unique key is re-read.
func (t *Tree) GetOrCreateSubcategory(ctx context.Context, categoryID, name string, sortOrder int) (core.Subcategory, error) {
	name = strings.TrimSpace(name)
	sub, err := t.repo.FindSubcategory(ctx, categoryID, name)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Subcategory{}, err
	}

	in := core.Subcategory{CategoryID: categoryID, Name: name, SortOrder: sortOrder}
	if err := in.Validate(); err != nil {
		return core.Subcategory{}, err
	}
	sub, err = t.repo.CreateSubcategory(ctx, in)
	if errors.Is(err, core.ErrConflict) {
		return t.repo.FindSubcategory(ctx, categoryID, name)
	}
	if err != nil {
		return core.Subcategory{}, err
	}
	t.logger.DebugContext(ctx, "Subcategory created",
		applog.FieldOperation, applog.OpCreate,
		applog.FieldCategory, categoryID,
		applog.FieldSubcategory, name)
	return sub, nil
}

// Tree returns the company's root categories, ordered by sort_order, with
// subcategories and children attached. Children whose parent is missing
// are promoted to roots.
func (t *Tree) Tree(ctx context.Context, companyID string) ([]Node, error) {
	cats, err := t.repo.ListCategories(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	byID := make(map[string]core.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	children := make(map[string][]Node)
	var roots []core.Category
	for _, c := range cats {
		if c.ParentID != nil {
			if _, ok := byID[*c.ParentID]; ok {
				subs, err := t.repo.ListSubcategories(ctx, c.ID)
				if err != nil {
					return nil, fmt.Errorf("list subcategories of %q: %w", c.Name, err)
				}
				children[*c.ParentID] = append(children[*c.ParentID], Node{Category: c, Subcategories: subs})
				continue
			}
		}
		roots = append(roots, c)
	}

	nodes := make([]Node, 0, len(roots))
	for _, c := range roots {
		subs, err := t.repo.ListSubcategories(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list subcategories of %q: %w", c.Name, err)
		}
		nodes = append(nodes, Node{Category: c, Subcategories: subs, Children: children[c.ID]})
	}
	return nodes, nil
}

// CreateCategory adds a category and its default subcategory.
func (t *Tree) CreateCategory(ctx context.Context, companyID string, in CategoryInput) (core.Category, error) {
	c := core.Category{
		CompanyID:    companyID,
		Name:         strings.TrimSpace(in.Name),
		Kind:         in.Kind,
		ParentID:     in.ParentID,
		SortOrder:    in.SortOrder,
		IsTotal:      in.IsTotal,
		IsCalculated: in.IsCalculated,
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if err := t.checkParent(ctx, c); err != nil {
		return core.Category{}, err
	}

	created, err := t.repo.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, err
	}

	leaf := BalanceSubcategory
	if created.Kind == core.KindRevenue {
		leaf = DefaultSubcategory
	}
	if _, err := t.GetOrCreateSubcategory(ctx, created.ID, leaf, 0); err != nil {
		return created, fmt.Errorf("create default subcategory: %w", err)
	}

	t.logger.InfoContext(ctx, "Category created",
		applog.FieldOperation, applog.OpCreate,
		applog.FieldCategory, created.Name,
		applog.FieldKind, created.Kind)
	return created, nil
}

// checkParent enforces a single nesting level within one company.
func (t *Tree) checkParent(ctx context.Context, c core.Category) error {
	if c.ParentID == nil {
		return nil
	}
	parent, err := t.repo.GetCategory(ctx, *c.ParentID)
	if err != nil {
		return fmt.Errorf("parent category: %w", err)
	}
	if parent.CompanyID != c.CompanyID {
		return fmt.Errorf("%w: parent %q belongs to another company", core.ErrInvalidValue, parent.Name)
	}
	if parent.ParentID != nil {
		return fmt.Errorf("%w: %q is already a child category", core.ErrInvalidValue, parent.Name)
	}
	return nil
}

// UpdateCategory corrects the name and/or sort order. Kind never changes.
func (t *Tree) UpdateCategory(ctx context.Context, id string, name *string, sortOrder *int) (core.Category, error) {
	c, err := t.repo.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	if name != nil {
		c.Name = strings.TrimSpace(*name)
	}
	if sortOrder != nil {
		c.SortOrder = *sortOrder
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	return t.repo.UpdateCategory(ctx, c)
}

func (t *Tree) DeleteCategory(ctx context.Context, id string) (storage.DeleteStats, error) {
	return t.repo.DeleteCategory(ctx, id)
}

func (t *Tree) DeleteSubcategory(ctx context.Context, id string) (storage.DeleteStats, error) {
	return t.repo.DeleteSubcategory(ctx, id)
}
