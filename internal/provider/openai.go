package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/granabot/grana/internal/model"
)

// openAIClient implements the Client interface against the OpenAI API.
type openAIClient struct {
	httpClient  *http.Client
	apiKey      string
	chatModel   string
	audioModel  string
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewOpenAIClient creates an OpenAI-backed extraction client.
func NewOpenAIClient(cfg ClientConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	chatModel := cfg.Model
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 400
	}

	return &openAIClient{
		apiKey:      cfg.APIKey,
		chatModel:   chatModel,
		audioModel:  "whisper-1",
		baseURL:     baseURL,
		temperature: temperature,
		maxTokens:   maxTokens,
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

func (c *openAIClient) Name() model.Provider { return model.ProviderOpenAI }

func (c *openAIClient) Supports(op model.Operation) bool {
	switch op {
	case model.OpExtractText, model.OpAnalyzeImage, model.OpTranscribeAudio, model.OpSuggestCategory:
		return true
	}
	return false
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// chat performs one chat-completion call and returns the raw content text.
func (c *openAIClient) chat(ctx context.Context, content any) (string, Usage, error) {
	reqBody := openAIChatRequest{
		Model:          c.chatModel,
		Messages:       []openAIMessage{{Role: "user", Content: content}},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("OpenAI request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if chatResp.Error != nil {
			msg = chatResp.Error.Message
		}
		return "", Usage{}, fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, msg)
	}
	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("OpenAI returned no choices")
	}

	usage := Usage{TokensIn: chatResp.Usage.PromptTokens, TokensOut: chatResp.Usage.CompletionTokens}
	return chatResp.Choices[0].Message.Content, usage, nil
}

func (c *openAIClient) ExtractTransaction(ctx context.Context, req ExtractRequest) (RawResult, Usage, error) {
	content, usage, err := c.chat(ctx, buildExtractPrompt(req))
	if err != nil {
		return RawResult{}, usage, err
	}
	raw, err := decodeRawResult([]byte(cleanModelJSON(content)))
	return raw, usage, err
}

func (c *openAIClient) AnalyzeImage(ctx context.Context, image BinaryInput, req ExtractRequest) (RawResult, Usage, error) {
	parts := []openAIContentPart{
		{Type: "text", Text: buildImagePrompt(req)},
		{Type: "image_url", ImageURL: &openAIImageURL{
			URL: fmt.Sprintf("data:%s;base64,%s", image.MIME, base64.StdEncoding.EncodeToString(image.Data)),
		}},
	}

	content, usage, err := c.chat(ctx, parts)
	if err != nil {
		return RawResult{}, usage, err
	}
	raw, err := decodeRawResult([]byte(cleanModelJSON(content)))
	return raw, usage, err
}

func (c *openAIClient) TranscribeAudio(ctx context.Context, audio BinaryInput) (string, Usage, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio"+extensionFor(audio.MIME))
	if err != nil {
		return "", Usage{}, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", Usage{}, fmt.Errorf("writing audio payload: %w", err)
	}
	if err := writer.WriteField("model", c.audioModel); err != nil {
		return "", Usage{}, fmt.Errorf("writing model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", Usage{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("OpenAI transcription failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("OpenAI transcription error (%d): %s", resp.StatusCode, string(respBody))
	}

	var transcription struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &transcription); err != nil {
		return "", Usage{}, fmt.Errorf("parsing transcription: %w", err)
	}

	return transcription.Text, Usage{}, nil
}

func (c *openAIClient) SuggestCategory(ctx context.Context, description string, categories []model.CategoryEntry) (RawSuggestion, Usage, error) {
	content, usage, err := c.chat(ctx, buildSuggestPrompt(description, categories))
	if err != nil {
		return RawSuggestion{}, usage, err
	}
	return decodeSuggestion(content), usage, nil
}

// decodeSuggestion parses the suggest-category JSON leniently; anything
// unusable decodes to an empty suggestion.
func decodeSuggestion(content string) RawSuggestion {
	var payload struct {
		Category    string `json:"category"`
		SubCategory string `json:"subCategory"`
	}
	_ = json.Unmarshal([]byte(cleanModelJSON(content)), &payload)
	return RawSuggestion{Category: payload.Category, SubCategory: payload.SubCategory}
}

func extensionFor(mime string) string {
	switch mime {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
