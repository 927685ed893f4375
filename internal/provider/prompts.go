package provider

import (
	"fmt"
	"strings"

	"github.com/granabot/grana/internal/model"
)

// catalogLines renders the tenant's category catalog for a prompt, one
// "Category > Subcategory" line per entry.
func catalogLines(categories []model.CategoryEntry) string {
	var b strings.Builder
	for _, c := range categories {
		if c.SubCategoryName != "" {
			fmt.Fprintf(&b, "- %s > %s\n", c.CategoryName, c.SubCategoryName)
		} else {
			fmt.Fprintf(&b, "- %s\n", c.CategoryName)
		}
	}
	return b.String()
}

// buildExtractPrompt creates the prompt for free-text transaction extraction.
// The model must answer with a single strict JSON object.
func buildExtractPrompt(req ExtractRequest) string {
	return fmt.Sprintf(`You are a financial message parser. Extract the transaction described in the message below. The message may be in Portuguese or English.

Output STRICT JSON only (no comments, no code fences, no extra text) with these fields:
- "type": "EXPENSE" or "INCOME"
- "amount": number (always positive)
- "category": string (pick from the catalog below when one fits)
- "subCategory": string or null (pick from the catalog below when one fits)
- "description": string (short, cleaned up)
- "merchant": string or null
- "date": string, ISO format "YYYY-MM-DD" (today if the message gives none)
- "confidence": number between 0.0 and 1.0

Category catalog:
%s
Message:
%s`, catalogLines(req.Categories), req.Text)
}

// buildImagePrompt creates the prompt for receipt/screenshot analysis. The
// attached image travels alongside it.
func buildImagePrompt(req ExtractRequest) string {
	return fmt.Sprintf(`You are a receipt analyzer. The attached image shows a purchase receipt, invoice or payment screenshot.

Extract the transaction and output STRICT JSON only with fields:
"type" ("EXPENSE" or "INCOME"), "amount" (number), "category", "subCategory",
"description", "merchant", "date" ("YYYY-MM-DD"), "confidence" (0.0-1.0).

Pick category and subCategory from this catalog when one fits:
%s`, catalogLines(req.Categories))
}

// buildSuggestPrompt creates the prompt for the advisory category suggestion.
func buildSuggestPrompt(description string, categories []model.CategoryEntry) string {
	return fmt.Sprintf(`Suggest the best category for this financial transaction description. Answer with STRICT JSON only: {"category": "...", "subCategory": "..." or null}.

Pick only from this catalog; if nothing fits, use "Other".

Catalog:
%s
Description: %s`, catalogLines(categories), description)
}

// cleanModelJSON strips code fences and stray prose a model may wrap around
// its JSON despite instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	// Keep only the outermost JSON object when prose surrounds it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}

	return strings.TrimSpace(s)
}
