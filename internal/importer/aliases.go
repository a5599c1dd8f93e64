package importer

import "orti/internal/taxonomy"

// AliasTable maps spelling variants found in sources to canonical category
// names. Keys are stored normalized.
type AliasTable map[string]string

func NewAliasTable(pairs map[string]string) AliasTable {
	t := make(AliasTable, len(pairs))
	for variant, canonical := range pairs {
		t.Add(variant, canonical)
	}
	return t
}

func (t AliasTable) Add(variant, canonical string) {
	t[taxonomy.Normalize(variant)] = canonical
}

// Canonical returns the canonical name for label, or label itself when no
// alias applies.
func (t AliasTable) Canonical(label string) string {
	if c, ok := t[taxonomy.Normalize(label)]; ok {
		return c
	}
	return label
}

// DefaultAliases holds the variants seen in ORTI workbooks and booking
// channel exports.
func DefaultAliases() AliasTable {
	return NewAliasTable(map[string]string{
		"Entrate Hotel ":       "Entrate Hotel",
		" Varie ed Eventuali":  "Varie ed Eventuali",
		"Mutui e Finaziamenti": "Mutui e Finanziamenti",
		"PANORAMAHT":           "Entrate Hotel",
		"ANGELINARES":          "Entrate Residence",
		"HOMEHOLIDAY":          "Entrate CVM",
		"Hotel":                "Entrate Hotel",
		"Residence":            "Entrate Residence",
		"CVM":                  "Entrate CVM",
		"Supermercato":         "Entrate Supermercato",
		"Caparre":              "Caparre Intur",
		"Materie Prime":        "Materie Prime/Consumo",
	})
}
