package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/granabot/grana/internal/index"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/pipeline"
	"github.com/granabot/grana/internal/provider"
)

// allOperations enumerates every routable operation kind.
var allOperations = []model.Operation{
	model.OpExtractText,
	model.OpAnalyzeImage,
	model.OpTranscribeAudio,
	model.OpSuggestCategory,
}

// Clients builds one extraction client per provider that has an API key
// configured. At least one provider must be configured.
func Clients() ([]provider.Client, error) {
	builders := map[model.Provider]func(provider.ClientConfig) (provider.Client, error){
		model.ProviderOpenAI:    provider.NewOpenAIClient,
		model.ProviderAnthropic: provider.NewAnthropicClient,
		model.ProviderGemini:    provider.NewGeminiClient,
	}

	var clients []provider.Client
	for _, p := range []model.Provider{model.ProviderOpenAI, model.ProviderAnthropic, model.ProviderGemini} {
		prefix := fmt.Sprintf("providers.%s.", p)
		apiKey := viper.GetString(prefix + "api_key")
		if apiKey == "" {
			continue
		}

		client, err := builders[p](provider.ClientConfig{
			APIKey:      apiKey,
			Model:       viper.GetString(prefix + "model"),
			BaseURL:     viper.GetString(prefix + "base_url"),
			Timeout:     viper.GetDuration(prefix + "timeout"),
			Temperature: viper.GetFloat64(prefix + "temperature"),
			MaxTokens:   viper.GetInt(prefix + "max_tokens"),
		})
		if err != nil {
			return nil, fmt.Errorf("configuring %s client: %w", p, err)
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no provider configured; set at least one providers.<name>.api_key")
	}
	return clients, nil
}

// Snapshot builds the per-operation routing table from configuration. It is
// re-read on every command invocation, so configuration changes apply without
// code changes.
func Snapshot() provider.Snapshot {
	defaultProvider := model.Provider(viper.GetString("operations.default_provider"))
	if defaultProvider == "" {
		defaultProvider = model.ProviderOpenAI
	}

	ops := make(map[model.Operation]provider.OperationConfig, len(allOperations))
	for _, op := range allOperations {
		prefix := fmt.Sprintf("operations.%s.", op)

		cfg := provider.OperationConfig{
			Provider:          defaultProvider,
			RequestsPerMinute: viper.GetInt64(prefix + "requests_per_minute"),
			TokensPerMinute:   viper.GetInt64(prefix + "tokens_per_minute"),
			AttemptTimeout:    viper.GetDuration(prefix + "attempt_timeout"),
		}
		if p := viper.GetString(prefix + "provider"); p != "" {
			cfg.Provider = model.Provider(p)
		}
		for _, f := range viper.GetStringSlice(prefix + "fallbacks") {
			cfg.Fallbacks = append(cfg.Fallbacks, model.Provider(f))
		}

		ops[op] = cfg
	}

	return provider.Snapshot{Operations: ops}
}

// IndexOptions reads the retrieval scoring knobs. Unset values fall back to
// the index's own defaults.
func IndexOptions() index.Options {
	return index.Options{
		SubSynonymWeight: viper.GetFloat64("index.sub_synonym_weight"),
		ExactMatchScore:  viper.GetFloat64("index.exact_match_score"),
		FuzzyMaxDistance: viper.GetInt("index.fuzzy_max_distance"),
	}
}

// PipelineConfig reads the phase thresholds and the confirmation TTL.
func PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Thresholds: pipeline.Thresholds{
			FastPath:      viper.GetFloat64("thresholds.fast_path"),
			Revalidation:  viper.GetFloat64("thresholds.revalidation"),
			MinConfidence: viper.GetFloat64("thresholds.min_confidence"),
			AutoRegister:  viper.GetFloat64("thresholds.auto_register"),
		},
		ConfirmationTTL: viper.GetDuration("confirmation.ttl"),
	}
}

// CacheTTL reads the result cache's sliding TTL, defaulting to a day.
func CacheTTL() time.Duration {
	if ttl := viper.GetDuration("cache.ttl"); ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}
