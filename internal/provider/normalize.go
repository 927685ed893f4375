package provider

import (
	"strconv"
	"strings"
	"time"

	"github.com/granabot/grana/internal/model"
)

// typeVocabulary maps canonical and localized transaction-type labels onto
// the canonical pair. Unknown labels fall through to the EXPENSE default in
// Normalize.
var typeVocabulary = map[string]model.TransactionType{
	"expense": model.TypeExpense,
	"despesa": model.TypeExpense,
	"gasto":   model.TypeExpense,
	"saida":   model.TypeExpense,
	"debit":   model.TypeExpense,
	"income":  model.TypeIncome,
	"receita": model.TypeIncome,
	"entrada": model.TypeIncome,
	"ganho":   model.TypeIncome,
	"renda":   model.TypeIncome,
	"credit":  model.TypeIncome,
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-01-2006",
}

// NormalizeResult converts untrusted provider output into the canonical,
// validated record shape. Localized amounts, garbled dates, localized type
// labels and out-of-range confidences all survive this.
func NormalizeResult(raw RawResult) model.ExtractionResult {
	result := model.ExtractionResult{
		Type:        ParseType(raw.Type),
		Amount:      ParseAmount(raw.Amount),
		Category:    strings.TrimSpace(raw.Category),
		SubCategory: strings.TrimSpace(raw.SubCategory),
		Description: strings.TrimSpace(raw.Description),
		Merchant:    strings.TrimSpace(raw.Merchant),
		Date:        ParseDate(raw.Date),
		Confidence:  normalizeConfidence(raw.Confidence),
	}
	return result.Normalize()
}

// ParseType resolves a type label in canonical or localized vocabulary.
// Unknown labels yield the empty type.
func ParseType(label string) model.TransactionType {
	return typeVocabulary[strings.ToLower(strings.TrimSpace(label))]
}

// ParseAmount parses a numeric amount that may arrive as a localized string:
// "56,89", "1.234,56", "1,234.56", "R$ 50". Unparseable input yields 0.
func ParseAmount(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Both separators present: the rightmost one is the decimal mark.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		// Comma only: decimal comma, except a lone ",ddd" group which reads
		// as a thousands separator.
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-lastComma-1 == 3 && lastComma > 0 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned[:lastComma], ",", "") + "." + cleaned[lastComma+1:]
		}
	}

	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return amount
}

// ParseDate tries the known layouts and returns the zero time when none fit;
// Normalize then falls back to "now".
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// normalizeConfidence maps percentage-style confidences ("85" meaning 0.85)
// into [0,1]; Normalize clamps the rest.
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		return c / 100
	}
	return c
}
