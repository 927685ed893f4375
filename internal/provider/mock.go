package provider

import (
	"context"
	"fmt"

	"github.com/granabot/grana/internal/model"
)

// MockClient is a configurable Client for tests. Each operation delegates to
// the matching func field when set; unset funcs return a canned success.
// Call counters track how many times each operation was invoked.
type MockClient struct {
	Provider   model.Provider
	Operations map[model.Operation]bool

	ExtractFunc func(ctx context.Context, req ExtractRequest) (RawResult, Usage, error)
	ImageFunc   func(ctx context.Context, image BinaryInput, req ExtractRequest) (RawResult, Usage, error)
	AudioFunc   func(ctx context.Context, audio BinaryInput) (string, Usage, error)
	SuggestFunc func(ctx context.Context, description string, categories []model.CategoryEntry) (RawSuggestion, Usage, error)

	ExtractCalls int
	ImageCalls   int
	AudioCalls   int
	SuggestCalls int
}

// NewMockClient creates a mock that supports every operation.
func NewMockClient(p model.Provider) *MockClient {
	return &MockClient{Provider: p}
}

func (m *MockClient) Name() model.Provider { return m.Provider }

func (m *MockClient) Supports(op model.Operation) bool {
	if m.Operations == nil {
		return true
	}
	return m.Operations[op]
}

func (m *MockClient) ExtractTransaction(ctx context.Context, req ExtractRequest) (RawResult, Usage, error) {
	m.ExtractCalls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, req)
	}
	return RawResult{
		Type:        "EXPENSE",
		Amount:      "10.00",
		Category:    "Food",
		Description: req.Text,
		Confidence:  0.9,
	}, Usage{TokensIn: 100, TokensOut: 50}, nil
}

func (m *MockClient) AnalyzeImage(ctx context.Context, image BinaryInput, req ExtractRequest) (RawResult, Usage, error) {
	m.ImageCalls++
	if m.ImageFunc != nil {
		return m.ImageFunc(ctx, image, req)
	}
	return RawResult{
		Type:       "EXPENSE",
		Amount:     "25.50",
		Category:   "Food",
		Merchant:   "Receipt Store",
		Confidence: 0.85,
	}, Usage{TokensIn: 500, TokensOut: 60}, nil
}

func (m *MockClient) TranscribeAudio(ctx context.Context, audio BinaryInput) (string, Usage, error) {
	m.AudioCalls++
	if m.AudioFunc != nil {
		return m.AudioFunc(ctx, audio)
	}
	return "spent ten dollars on lunch", Usage{TokensIn: 200, TokensOut: 10}, nil
}

func (m *MockClient) SuggestCategory(ctx context.Context, description string, categories []model.CategoryEntry) (RawSuggestion, Usage, error) {
	m.SuggestCalls++
	if m.SuggestFunc != nil {
		return m.SuggestFunc(ctx, description, categories)
	}
	return RawSuggestion{Category: "Food", SubCategory: "Restaurant"}, Usage{TokensIn: 80, TokensOut: 12}, nil
}

// FailingMockClient returns a mock whose every operation fails with the
// given error message.
func FailingMockClient(p model.Provider, msg string) *MockClient {
	err := fmt.Errorf("%s", msg)
	m := NewMockClient(p)
	m.ExtractFunc = func(context.Context, ExtractRequest) (RawResult, Usage, error) {
		return RawResult{}, Usage{}, err
	}
	m.ImageFunc = func(context.Context, BinaryInput, ExtractRequest) (RawResult, Usage, error) {
		return RawResult{}, Usage{}, err
	}
	m.AudioFunc = func(context.Context, BinaryInput) (string, Usage, error) {
		return "", Usage{}, err
	}
	m.SuggestFunc = func(context.Context, string, []model.CategoryEntry) (RawSuggestion, Usage, error) {
		return RawSuggestion{}, Usage{}, err
	}
	return m
}
