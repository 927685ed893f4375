// Package provider implements the extraction backends and the orchestrator
// that selects between them.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/granabot/grana/internal/model"
)

// ExtractRequest carries the message text and the tenant's category catalog
// used as extraction context.
type ExtractRequest struct {
	Text       string
	Categories []model.CategoryEntry
}

// BinaryInput is image or audio content with its MIME type.
type BinaryInput struct {
	Data []byte
	MIME string
}

// Usage reports token consumption for a single provider call.
type Usage struct {
	TokensIn  int64
	TokensOut int64
}

// RawResult is untrusted provider output. Every field that models tend to
// garble is a string here; NormalizeResult converts it into the canonical
// record.
type RawResult struct {
	Type        string
	Amount      string
	Category    string
	SubCategory string
	Description string
	Merchant    string
	Date        string
	Confidence  float64
}

// RawSuggestion is untrusted output of the suggest-category operation.
type RawSuggestion struct {
	Category    string
	SubCategory string
}

// Client is one extraction backend. Each client advertises the operations it
// supports; the orchestrator filters fallback chains by capability instead
// of discovering unsupported operations through errors.
type Client interface {
	Name() model.Provider
	Supports(op model.Operation) bool
	ExtractTransaction(ctx context.Context, req ExtractRequest) (RawResult, Usage, error)
	AnalyzeImage(ctx context.Context, image BinaryInput, req ExtractRequest) (RawResult, Usage, error)
	TranscribeAudio(ctx context.Context, audio BinaryInput) (string, Usage, error)
	SuggestCategory(ctx context.Context, description string, categories []model.CategoryEntry) (RawSuggestion, Usage, error)
}

// ClientConfig holds per-provider settings.
type ClientConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// decodeRawResult parses a model's JSON object into a RawResult, tolerating
// numbers and strings interchangeably.
func decodeRawResult(data []byte) (RawResult, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return RawResult{}, fmt.Errorf("decoding extraction payload: %w", err)
	}

	raw := RawResult{
		Type:        asString(fields["type"]),
		Amount:      asString(fields["amount"]),
		Category:    asString(fields["category"]),
		SubCategory: asString(fields["subCategory"]),
		Description: asString(fields["description"]),
		Merchant:    asString(fields["merchant"]),
		Date:        asString(fields["date"]),
	}
	if raw.SubCategory == "" {
		raw.SubCategory = asString(fields["subcategory"])
	}

	switch v := fields["confidence"].(type) {
	case float64:
		raw.Confidence = v
	case string:
		fmt.Sscanf(v, "%f", &raw.Confidence)
	}

	return raw, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
