// Package model defines the core domain models used throughout the application.
package model

// Provider identifies an extraction backend. It is stateless and used as a
// map key everywhere a backend needs to be addressed.
type Provider string

// Known providers.
const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Operation identifies one kind of extraction work. Each operation has its
// own rate budget, cache namespace and fallback chain.
type Operation string

// Supported operations.
const (
	OpExtractText     Operation = "extract-text"
	OpAnalyzeImage    Operation = "analyze-image"
	OpTranscribeAudio Operation = "transcribe-audio"
	OpSuggestCategory Operation = "suggest-category"
)

// Usage metrics tracked per provider.
const (
	MetricRequests = "requests"
	MetricTokens   = "tokens"
)
