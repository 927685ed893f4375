package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/granabot/grana/internal/model"
)

const anthropicVersion = "2023-06-01"

// anthropicClient implements the Client interface against the Anthropic
// Messages API. Anthropic has no transcription endpoint, so the audio
// capability is not advertised.
type anthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
}

// NewAnthropicClient creates an Anthropic-backed extraction client.
func NewAnthropicClient(cfg ClientConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	m := cfg.Model
	if m == "" {
		m = "claude-3-5-haiku-20241022"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 400
	}

	return &anthropicClient{
		apiKey:    cfg.APIKey,
		model:     m,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *anthropicClient) Name() model.Provider { return model.ProviderAnthropic }

func (c *anthropicClient) Supports(op model.Operation) bool {
	switch op {
	case model.OpExtractText, model.OpAnalyzeImage, model.OpSuggestCategory:
		return true
	}
	return false
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type   string               `json:"type"`
	Text   string               `json:"text,omitempty"`
	Source *anthropicImageBlock `json:"source,omitempty"`
}

type anthropicImageBlock struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete performs one Messages API call and returns the response text.
func (c *anthropicClient) complete(ctx context.Context, content any) (string, Usage, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: content}},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("Anthropic request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var msgResp anthropicResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if msgResp.Error != nil {
			msg = msgResp.Error.Message
		}
		return "", Usage{}, fmt.Errorf("Anthropic API error (%d): %s", resp.StatusCode, msg)
	}

	var text string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", Usage{}, fmt.Errorf("Anthropic returned no text content")
	}

	usage := Usage{TokensIn: msgResp.Usage.InputTokens, TokensOut: msgResp.Usage.OutputTokens}
	return text, usage, nil
}

func (c *anthropicClient) ExtractTransaction(ctx context.Context, req ExtractRequest) (RawResult, Usage, error) {
	content, usage, err := c.complete(ctx, buildExtractPrompt(req))
	if err != nil {
		return RawResult{}, usage, err
	}
	raw, err := decodeRawResult([]byte(cleanModelJSON(content)))
	return raw, usage, err
}

func (c *anthropicClient) AnalyzeImage(ctx context.Context, image BinaryInput, req ExtractRequest) (RawResult, Usage, error) {
	blocks := []anthropicContentBlock{
		{Type: "image", Source: &anthropicImageBlock{
			Type:      "base64",
			MediaType: image.MIME,
			Data:      base64.StdEncoding.EncodeToString(image.Data),
		}},
		{Type: "text", Text: buildImagePrompt(req)},
	}

	content, usage, err := c.complete(ctx, blocks)
	if err != nil {
		return RawResult{}, usage, err
	}
	raw, err := decodeRawResult([]byte(cleanModelJSON(content)))
	return raw, usage, err
}

func (c *anthropicClient) TranscribeAudio(_ context.Context, _ BinaryInput) (string, Usage, error) {
	return "", Usage{}, fmt.Errorf("anthropic: transcription not supported")
}

func (c *anthropicClient) SuggestCategory(ctx context.Context, description string, categories []model.CategoryEntry) (RawSuggestion, Usage, error) {
	content, usage, err := c.complete(ctx, buildSuggestPrompt(description, categories))
	if err != nil {
		return RawSuggestion{}, usage, err
	}
	return decodeSuggestion(content), usage, nil
}
