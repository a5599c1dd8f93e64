package taxonomy

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"orti/internal/core"
)

// Normalize trims a label, collapses inner whitespace and case-folds it.
// A Caser is stateful, so each call gets its own.
func Normalize(label string) string {
	return cases.Fold().String(strings.Join(strings.Fields(label), " "))
}

// Match resolves label against categories: exact name, then normalized
// name, then a unique substring hit in either direction. Anything else is
// an unresolved label.
func Match(categories []core.Category, label string) (core.Category, error) {
	norm := Normalize(label)
	if norm == "" {
		return core.Category{}, fmt.Errorf("%w: %w: empty label", core.ErrUnresolvedLabel, core.ErrNotFound)
	}

	for _, c := range categories {
		if c.Name == label {
			return c, nil
		}
	}

	var hits []core.Category
	for _, c := range categories {
		if Normalize(c.Name) == norm {
			hits = append(hits, c)
		}
	}
	if len(hits) == 1 {
		return hits[0], nil
	}
	if len(hits) > 1 {
		return core.Category{}, ambiguous(label, hits)
	}

	for _, c := range categories {
		name := Normalize(c.Name)
		if name == "" {
			continue
		}
		if strings.Contains(name, norm) || strings.Contains(norm, name) {
			hits = append(hits, c)
		}
	}
	switch len(hits) {
	case 0:
		return core.Category{}, fmt.Errorf("%w: %w: no category matches %q", core.ErrUnresolvedLabel, core.ErrNotFound, label)
	case 1:
		return hits[0], nil
	default:
		return core.Category{}, ambiguous(label, hits)
	}
}

func ambiguous(label string, hits []core.Category) error {
	names := make([]string, len(hits))
	for i, c := range hits {
		names[i] = c.Name
	}
	return fmt.Errorf("%w: %w: %q matches %d categories (%s)",
		core.ErrUnresolvedLabel, core.ErrNotFound, label, len(hits), strings.Join(names, ", "))
}
