package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/granabot/grana/internal/model"
)

// geminiClient implements the Client interface on the Gemini SDK. It handles
// every operation, including audio transcription via inline data.
type geminiClient struct {
	apiKey string
	model  string
}

// NewGeminiClient creates a Gemini-backed extraction client.
func NewGeminiClient(cfg ClientConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	m := cfg.Model
	if m == "" {
		m = "gemini-2.0-flash"
	}

	return &geminiClient{apiKey: cfg.APIKey, model: m}, nil
}

func (c *geminiClient) Name() model.Provider { return model.ProviderGemini }

func (c *geminiClient) Supports(model.Operation) bool { return true }

// generate runs one GenerateContent call with the given parts and returns
// the response text.
func (c *geminiClient) generate(ctx context.Context, parts []*genai.Part) (string, Usage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      c.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating genai client: %w", err)
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", Usage{}, fmt.Errorf("Gemini request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", Usage{}, fmt.Errorf("Gemini returned an empty response")
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.TokensIn = int64(resp.UsageMetadata.PromptTokenCount)
		usage.TokensOut = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	return text, usage, nil
}

func (c *geminiClient) ExtractTransaction(ctx context.Context, req ExtractRequest) (RawResult, Usage, error) {
	content, usage, err := c.generate(ctx, []*genai.Part{{Text: buildExtractPrompt(req)}})
	if err != nil {
		return RawResult{}, usage, err
	}
	raw, err := decodeRawResult([]byte(cleanModelJSON(content)))
	return raw, usage, err
}

func (c *geminiClient) AnalyzeImage(ctx context.Context, image BinaryInput, req ExtractRequest) (RawResult, Usage, error) {
	parts := []*genai.Part{
		{Text: buildImagePrompt(req)},
		{InlineData: &genai.Blob{MIMEType: image.MIME, Data: image.Data}},
	}

	content, usage, err := c.generate(ctx, parts)
	if err != nil {
		return RawResult{}, usage, err
	}
	raw, err := decodeRawResult([]byte(cleanModelJSON(content)))
	return raw, usage, err
}

func (c *geminiClient) TranscribeAudio(ctx context.Context, audio BinaryInput) (string, Usage, error) {
	parts := []*genai.Part{
		{Text: "Transcribe this audio exactly as spoken. Output only the transcription, nothing else."},
		{InlineData: &genai.Blob{MIMEType: audio.MIME, Data: audio.Data}},
	}

	return c.generate(ctx, parts)
}

func (c *geminiClient) SuggestCategory(ctx context.Context, description string, categories []model.CategoryEntry) (RawSuggestion, Usage, error) {
	content, usage, err := c.generate(ctx, []*genai.Part{{Text: buildSuggestPrompt(description, categories)}})
	if err != nil {
		return RawSuggestion{}, usage, err
	}
	return decodeSuggestion(content), usage, nil
}
