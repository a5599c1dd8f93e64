package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Kind classifies a category. The set is closed: anything else is rejected
// when parsed.
type Kind string

const (
	KindRevenue   Kind = "revenue"
	KindExpense   Kind = "expense"
	KindBalance   Kind = "balance"
	KindFinancing Kind = "financing"
)

// Kinds lists every valid kind in presentation order.
func Kinds() []Kind {
	return []Kind{KindRevenue, KindExpense, KindBalance, KindFinancing}
}

// ParseKind accepts the canonical lowercase names plus the Italian labels
// used in the ORTI workbooks.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "revenue", "entrate":
		return KindRevenue, nil
	case "expense", "uscite":
		return KindExpense, nil
	case "balance", "saldi", "saldo":
		return KindBalance, nil
	case "financing", "affidamenti", "finanziamenti":
		return KindFinancing, nil
	}
	return "", fmt.Errorf("%w: unknown category kind %q", ErrInvalidValue, s)
}

func (k Kind) Valid() bool {
	switch k {
	case KindRevenue, KindExpense, KindBalance, KindFinancing:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: unknown category kind %q", ErrInvalidValue, string(k))
	}
	return []byte(k), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type (
	Company struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}

	// Category is a top-level node or a child of exactly one top-level node.
	Category struct {
		ID           string  `json:"id"`
		CompanyID    string  `json:"company_id"`
		Name         string  `json:"name"`
		Kind         Kind    `json:"type"`
		ParentID     *string `json:"parent_id,omitempty"`
		SortOrder    int     `json:"sort_order"`
		IsTotal      bool    `json:"is_total"`
		IsCalculated bool    `json:"is_calculated"`
	}

	Subcategory struct {
		ID         string `json:"id"`
		CategoryID string `json:"category_id"`
		Name       string `json:"name"`
		SortOrder  int    `json:"sort_order"`
	}

	// Entry is one monetary value. (SubcategoryID, Year, Month, IsProjection)
	// is its natural key.
	Entry struct {
		ID            string          `json:"id"`
		SubcategoryID string          `json:"subcategory_id"`
		Year          int             `json:"year"`
		Month         int             `json:"month"`
		Value         decimal.Decimal `json:"value"`
		IsProjection  bool            `json:"is_projection"`
		Notes         string          `json:"notes,omitempty"`
		CreatedAt     time.Time       `json:"created_at"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}

	// EntryFilter selects entries. Nil fields match everything.
	EntryFilter struct {
		CompanyID     *string
		CategoryID    *string
		SubcategoryID *string
		Year          *int
		Month         *int
		IsProjection  *bool
		Limit         int
	}

	// EntryPatch carries the fields an administrative update may change.
	EntryPatch struct {
		Year         *int
		Month        *int
		Value        *decimal.Decimal
		IsProjection *bool
		Notes        *string
	}

	// LedgerLine is an entry joined with its classification.
	LedgerLine struct {
		Entry
		SubcategoryName string `json:"subcategory_name"`
		CategoryID      string `json:"category_id"`
		CategoryName    string `json:"category_name"`
		Kind            Kind   `json:"type"`
	}
)

const (
	MinYear = 1900
	MaxYear = 9999

	MaxNotesLength = 2000
)

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: category name is empty", ErrInvalidValue)
	}
	if c.CompanyID == "" {
		return fmt.Errorf("%w: category %q has no company", ErrInvalidValue, c.Name)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: category %q has unknown kind %q", ErrInvalidValue, c.Name, string(c.Kind))
	}
	if c.ParentID != nil && *c.ParentID == c.ID && c.ID != "" {
		return fmt.Errorf("%w: category %q cannot be its own parent", ErrInvalidValue, c.Name)
	}
	return nil
}

func (s Subcategory) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: subcategory name is empty", ErrInvalidValue)
	}
	if s.CategoryID == "" {
		return fmt.Errorf("%w: subcategory %q has no category", ErrInvalidValue, s.Name)
	}
	return nil
}

func (e Entry) Validate() error {
	if e.SubcategoryID == "" {
		return fmt.Errorf("%w: entry has no subcategory", ErrInvalidValue)
	}
	if n := utf8.RuneCountInString(e.Notes); n > MaxNotesLength {
		return fmt.Errorf("%w: notes are %d characters, at most %d allowed", ErrInvalidValue, n, MaxNotesLength)
	}
	return e.Period().Validate()
}

func (e Entry) Period() Period {
	return Period{Year: e.Year, Month: e.Month}
}

// Apply returns a copy of e with the patch fields set.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.Year != nil {
		e.Year = *p.Year
	}
	if p.Month != nil {
		e.Month = *p.Month
	}
	if p.Value != nil {
		e.Value = *p.Value
	}
	if p.IsProjection != nil {
		e.IsProjection = *p.IsProjection
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	return e
}

// Period is a calendar month.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d outside 1-12", ErrInvalidValue, p.Month)
	}
	if p.Year < MinYear || p.Year > MaxYear {
		return fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidValue, p.Year, MinYear, MaxYear)
	}
	return nil
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) Next() Period {
	if p.Month >= 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// ParsePeriod reads "YYYY-MM" (or "YYYY-M").
func ParsePeriod(s string) (Period, error) {
	y, m, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Period{}, fmt.Errorf("%w: period %q is not YYYY-MM", ErrInvalidValue, s)
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return Period{}, fmt.Errorf("%w: period %q has a bad year", ErrInvalidValue, s)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return Period{}, fmt.Errorf("%w: period %q has a bad month", ErrInvalidValue, s)
	}
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}
