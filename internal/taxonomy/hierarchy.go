package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orti/internal/core"
	applog "orti/internal/log"
)

// Definition declares a category to seed.
type Definition struct {
	Name          string
	Kind          core.Kind
	SortOrder     int
	IsTotal       bool
	IsCalculated  bool
	Subcategories []SubDefinition
	Children      []Definition
}

type SubDefinition struct {
	Name      string
	SortOrder int
}

// SeedReport lists what a seed run changed.
type SeedReport struct {
	CreatedCategories    []string `json:"created_categories"`
	ExistingCategories   []string `json:"existing_categories"`
	CreatedSubcategories []string `json:"created_subcategories"`
}

// SeedDefaultHierarchy creates every missing category and subcategory in
// defs. Existing categories are left as they are. All definitions are
// validated before the first write.
func (t *Tree) SeedDefaultHierarchy(ctx context.Context, companyID string, defs []Definition) (SeedReport, error) {
	if err := validateDefinitions(defs, 0); err != nil {
		return SeedReport{}, err
	}

	existing, err := t.repo.ListCategories(ctx, companyID)
	if err != nil {
		return SeedReport{}, fmt.Errorf("list categories: %w", err)
	}
	byName := make(map[string]core.Category, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}

	var report SeedReport
	for _, d := range defs {
		if err := t.seedOne(ctx, companyID, nil, d, byName, &report); err != nil {
			return report, err
		}
	}

	t.logger.InfoContext(ctx, "Category hierarchy seeded",
		applog.FieldOperation, applog.OpSeed,
		"created_categories", len(report.CreatedCategories),
		"existing_categories", len(report.ExistingCategories),
		"created_subcategories", len(report.CreatedSubcategories))
	return report, nil
}

func (t *Tree) seedOne(ctx context.Context, companyID string, parentID *string, d Definition, byName map[string]core.Category, report *SeedReport) error {
	cat, ok := byName[d.Name]
	if ok {
		report.ExistingCategories = append(report.ExistingCategories, d.Name)
	} else {
		created, err := t.repo.CreateCategory(ctx, core.Category{
			CompanyID:    companyID,
			Name:         d.Name,
			Kind:         d.Kind,
			ParentID:     parentID,
			SortOrder:    d.SortOrder,
			IsTotal:      d.IsTotal,
			IsCalculated: d.IsCalculated,
		})
		switch {
		case errors.Is(err, core.ErrConflict):
			// created concurrently; fall through to the existing row
			cats, lerr := t.repo.ListCategories(ctx, companyID)
			if lerr != nil {
				return fmt.Errorf("seed %q: %w", d.Name, lerr)
			}
			for _, c := range cats {
				if c.Name == d.Name {
					created, err = c, nil
				}
			}
			if err != nil {
				return fmt.Errorf("seed %q: %w", d.Name, err)
			}
			report.ExistingCategories = append(report.ExistingCategories, d.Name)
		case err != nil:
			return fmt.Errorf("seed %q: %w", d.Name, err)
		default:
			report.CreatedCategories = append(report.CreatedCategories, d.Name)
		}
		cat = created
		byName[d.Name] = cat
	}

	for _, sd := range d.Subcategories {
		_, err := t.repo.FindSubcategory(ctx, cat.ID, sd.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("seed %q > %q: %w", d.Name, sd.Name, err)
		}
		if _, err := t.GetOrCreateSubcategory(ctx, cat.ID, sd.Name, sd.SortOrder); err != nil {
			return fmt.Errorf("seed %q > %q: %w", d.Name, sd.Name, err)
		}
		report.CreatedSubcategories = append(report.CreatedSubcategories, d.Name+" > "+sd.Name)
	}

	for _, child := range d.Children {
		id := cat.ID
		if err := t.seedOne(ctx, companyID, &id, child, byName, report); err != nil {
			return err
		}
	}
	return nil
}

func validateDefinitions(defs []Definition, depth int) error {
	seen := make(map[string]bool)
	for _, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("%w: definition with empty name", core.ErrInvalidValue)
		}
		if !d.Kind.Valid() {
			return fmt.Errorf("%w: %q has unknown kind %q", core.ErrInvalidValue, d.Name, string(d.Kind))
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: %q declared twice", core.ErrInvalidValue, d.Name)
		}
		seen[d.Name] = true
		for _, sd := range d.Subcategories {
			if strings.TrimSpace(sd.Name) == "" {
				return fmt.Errorf("%w: %q has a subcategory with empty name", core.ErrInvalidValue, d.Name)
			}
		}
		if len(d.Children) > 0 {
			if depth > 0 {
				return fmt.Errorf("%w: %q nests below a child category", core.ErrInvalidValue, d.Children[0].Name)
			}
			if err := validateDefinitions(d.Children, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func subs(names ...string) []SubDefinition {
	out := make([]SubDefinition, len(names))
	for i, n := range names {
		out[i] = SubDefinition{Name: n, SortOrder: i + 1}
	}
	return out
}

func revenue(name string, order int) Definition {
	return Definition{Name: name, Kind: core.KindRevenue, SortOrder: order, Subcategories: subs(DefaultSubcategory)}
}

func expense(name string, order int, details ...string) Definition {
	if len(details) == 0 {
		details = []string{DefaultSubcategory}
	}
	return Definition{Name: name, Kind: core.KindExpense, SortOrder: order, Subcategories: subs(details...)}
}

func account(name string, kind core.Kind, order int) Definition {
	return Definition{Name: name, Kind: kind, SortOrder: order, Subcategories: subs(DefaultSubcategory)}
}

func calculated(name string, kind core.Kind, order int, total bool) Definition {
	return Definition{Name: name, Kind: kind, SortOrder: order, IsTotal: total, IsCalculated: true}
}

// DefaultHierarchy is the ORTI chart of accounts.
func DefaultHierarchy() []Definition {
	return []Definition{
		revenue("Entrate Hotel", 10),
		revenue("Entrate Residence", 20),
		revenue("Entrate CVM", 30),
		revenue("Entrate Supermercato", 40),
		revenue("Rientro Sospesi", 50),
		revenue("Caparre Intur", 60),
		calculated("TOTALE ENTRATE", core.KindRevenue, 90, true),

		expense("Salari e Stipendi", 100, "SALARI", "F24"),
		expense("Utenze", 110, "Energia elettrica", "Gas", "Ausino", "Vodafone", "Connectivia"),
		expense("Materie Prime/Consumo", 120, "A. MIGLIORE", "BEVERAGE", "MATERIALI DI CONSUMO", "LAVANDERIA", "MATERIALE DI MANUTENZIONE"),
		expense("Tasse e Imposte", 130, "IMPOSTA DI SOGGIORNO HP", "IMPOSTA DI SOGGIORNO AR", "IMPOSTA DI SOGGIORNO CVM",
			"IMU", "IMPOSTE", "IVA", "TARI HOTEL", "TARI RESIDENCE", "TARI CVM"),
		expense("Commissioni Portali", 140, "Commissioni Booking", "Commissioni Expedia", "Commissioni Transato Pos",
			"Commissioni e spese Bancarie"),
		expense("Mutui e Finanziamenti", 150, "Mutuo MPS", "Mutuo Intesa"),
		expense("Consulenze", 160, "Consulenza del lavoro", "Consulenza fiscale", "Consulenza legale"),
		expense("Godimento Beni di Terzi", 170, "Fitto Ramo d'Azienda", "Fitto AR", "Fitto CVM"),
		expense("Varie ed Eventuali", 180, "Cantiere Carotenuto", "Spiagge", "Altamira"),
		expense("Canoni e servizi", 190, "Proxima Service", "Hoxell", "Sistemi (E_solver)", "Noleggio Tesla",
			"Pin App", "Amalfi Web", "Software tecnology", "Zucchetti"),
		expense("Ristr. Apt SDP Jr", 200, "MIELE RI.BA DAL 31/05/2025", "ALESSIO", "S.T.E.", "INFISSI ROMANO",
			"NUSCO", "SANTELIA IMPIANTI", "PITTORE", "ARCHITETTO"),
		expense("Deposito Fitto", 210),
		calculated("TOTALE USCITE", core.KindExpense, 290, true),
		calculated("DIFF. Entrate-Uscite", core.KindBalance, 295, false),

		account("Saldo Banca Sella", core.KindBalance, 300),
		account("Saldo MPS", core.KindBalance, 301),
		account("Saldo Intesa", core.KindBalance, 302),
		account("CASSA CONTANTI", core.KindBalance, 310),
		calculated("TOTALE BANCHE", core.KindBalance, 320, true),
		calculated("CASH FLOW", core.KindBalance, 330, false),

		account("Fin. MPS 60 mesi", core.KindFinancing, 400),
		calculated("TOTALE AFFIDAMENTI", core.KindFinancing, 410, true),
		calculated("CASH FLOW CON AFFID.", core.KindBalance, 420, false),
	}
}
