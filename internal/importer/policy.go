package importer

import (
	"time"

	"orti/internal/core"
)

// ProjectionPolicy decides whether a period's values are projections.
type ProjectionPolicy interface {
	IsProjection(p core.Period) bool
}

// CutoffPolicy marks the cutoff period and everything after it as
// projection.
type CutoffPolicy struct {
	Cutoff core.Period
}

func (c CutoffPolicy) IsProjection(p core.Period) bool {
	return !p.Before(c.Cutoff)
}

// FixedPolicy applies one flag to every period of an import.
type FixedPolicy bool

func (f FixedPolicy) IsProjection(core.Period) bool { return bool(f) }

// AsOf treats the month containing t as still open: it and later months
// are projections.
func AsOf(t time.Time) CutoffPolicy {
	return CutoffPolicy{Cutoff: core.Period{Year: t.Year(), Month: int(t.Month())}}
}

// ChoosePolicy picks the policy for one import run: an explicit flag wins,
// then a cutoff, then the month of now.
func ChoosePolicy(explicit *bool, cutoff *core.Period, now time.Time) ProjectionPolicy {
	switch {
	case explicit != nil:
		return FixedPolicy(*explicit)
	case cutoff != nil:
		return CutoffPolicy{Cutoff: *cutoff}
	default:
		return AsOf(now)
	}
}
