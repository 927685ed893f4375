package index

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SynonymTable maps colloquial terms to canonical category/subcategory
// vocabulary. It is loaded once at startup and shared read-only process-wide;
// a reload builds a new table value and swaps it in.
type SynonymTable struct {
	Version string
	entries map[string][]string
}

// NewSynonymTable builds a table from colloquial-term -> canonical-terms
// mappings. Keys and values are folded so lookups are diacritic-insensitive.
func NewSynonymTable(version string, mappings map[string][]string) *SynonymTable {
	entries := make(map[string][]string, len(mappings))
	for term, canonical := range mappings {
		folded := make([]string, 0, len(canonical))
		for _, c := range canonical {
			folded = append(folded, Fold(c))
		}
		entries[Fold(term)] = folded
	}
	return &SynonymTable{Version: version, entries: entries}
}

// synonymFile is the on-disk shape for admin-supplied tables.
type synonymFile struct {
	Version  string              `yaml:"version"`
	Synonyms map[string][]string `yaml:"synonyms"`
}

// ParseSynonymsYAML loads a synonym table from YAML.
func ParseSynonymsYAML(data []byte) (*SynonymTable, error) {
	var file synonymFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing synonym table: %w", err)
	}
	if file.Version == "" {
		file.Version = "custom"
	}
	return NewSynonymTable(file.Version, file.Synonyms), nil
}

// Lookup returns the canonical terms for a folded token, or nil.
func (t *SynonymTable) Lookup(token string) []string {
	if t == nil {
		return nil
	}
	return t.entries[token]
}

// Len returns the number of colloquial terms in the table.
func (t *SynonymTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// DefaultSynonyms returns the built-in bilingual table. Colloquial purchase
// vocabulary (Portuguese and English) maps onto the canonical category and
// subcategory terms tenants typically carry.
func DefaultSynonyms() *SynonymTable {
	return NewSynonymTable("builtin-1", map[string][]string{
		// Fuel and transport.
		"gasolina":  {"combustivel", "fuel"},
		"etanol":    {"combustivel", "fuel"},
		"alcool":    {"combustivel", "fuel"},
		"diesel":    {"combustivel", "fuel"},
		"gas":       {"combustivel", "fuel"},
		"uber":      {"transporte", "transport"},
		"taxi":      {"transporte", "transport"},
		"onibus":    {"transporte", "transport"},
		"metro":     {"transporte", "transport"},
		"bus":       {"transporte", "transport"},
		"estacionamento": {"transporte", "transport", "parking"},

		// Food.
		"mercado":      {"supermercado", "supermarket"},
		"feira":        {"supermercado", "supermarket"},
		"groceries":    {"supermercado", "supermarket"},
		"almoco":       {"restaurante", "restaurant", "alimentacao", "food"},
		"jantar":       {"restaurante", "restaurant", "alimentacao", "food"},
		"lanche":       {"lanchonete", "alimentacao", "food"},
		"pizza":        {"restaurante", "restaurant", "alimentacao", "food"},
		"ifood":        {"delivery", "alimentacao", "food"},
		"lunch":        {"restaurante", "restaurant", "food"},
		"dinner":       {"restaurante", "restaurant", "food"},
		"cafe":         {"cafeteria", "alimentacao", "food"},
		"padaria":      {"alimentacao", "food", "bakery"},

		// Housing and utilities.
		"aluguel":     {"moradia", "housing", "rent"},
		"condominio":  {"moradia", "housing"},
		"luz":         {"energia", "utilities", "contas"},
		"energia":     {"utilities", "contas"},
		"agua":        {"utilities", "contas"},
		"internet":    {"utilities", "contas", "telefonia"},
		"rent":        {"moradia", "housing"},

		// Health and education.
		"farmacia":   {"saude", "health", "pharmacy"},
		"remedio":    {"saude", "health", "pharmacy"},
		"medico":     {"saude", "health"},
		"academia":   {"saude", "health", "gym"},
		"faculdade":  {"educacao", "education"},
		"curso":      {"educacao", "education"},
		"escola":     {"educacao", "education"},
		"livro":      {"educacao", "education", "books"},

		// Leisure and shopping.
		"cinema":   {"lazer", "entertainment"},
		"netflix":  {"assinaturas", "subscriptions", "streaming"},
		"spotify":  {"assinaturas", "subscriptions", "streaming"},
		"show":     {"lazer", "entertainment"},
		"roupa":    {"vestuario", "clothing", "compras", "shopping"},
		"tenis":    {"vestuario", "clothing", "compras", "shopping"},

		// Income.
		"salario":    {"renda", "income", "salary"},
		"pagamento":  {"renda", "income"},
		"freela":     {"renda", "income", "freelance"},
		"reembolso":  {"renda", "income", "refund"},
	})
}
