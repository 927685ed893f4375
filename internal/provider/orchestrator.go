package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/granabot/grana/internal/cache"
	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/meter"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/service"
)

// Suggestion is the advisory output of the suggest-category operation.
type Suggestion struct {
	Category    string `json:"category"`
	SubCategory string `json:"subCategory,omitempty"`
}

// Orchestrator is a uniform facade over the registered extraction backends.
// It owns provider selection, cache and rate-limit checks, output
// normalization and ordered fallback.
type Orchestrator struct {
	clients map[model.Provider]Client
	cache   *cache.Cache
	meter   *meter.Meter
	usage   service.UsageLogger
	logger  *slog.Logger
}

// New creates an orchestrator over the given clients. The usage logger is
// optional; when set, every attempt is reported to it fire-and-forget.
func New(clients []Client, resultCache *cache.Cache, usageMeter *meter.Meter, usageLogger service.UsageLogger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[model.Provider]Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}

	return &Orchestrator{
		clients: byName,
		cache:   resultCache,
		meter:   usageMeter,
		usage:   usageLogger,
		logger:  logger,
	}
}

// ExtractText runs the extract-text operation and returns the normalized
// canonical record.
func (o *Orchestrator) ExtractText(ctx context.Context, snap Snapshot, req ExtractRequest) (model.ExtractionResult, error) {
	payload, err := o.run(ctx, snap, model.OpExtractText, estimateTokens(req.Text),
		func(p model.Provider) string { return cache.TextKey(p, model.OpExtractText, req.Text) },
		func(ctx context.Context, c Client) ([]byte, Usage, error) {
			raw, usage, err := c.ExtractTransaction(ctx, req)
			if err != nil {
				return nil, usage, err
			}
			payload, err := json.Marshal(NormalizeResult(raw))
			return payload, usage, err
		})
	if err != nil {
		return model.ExtractionResult{}, err
	}
	return unmarshalResult(payload)
}

// AnalyzeImage runs the analyze-image operation on a receipt or screenshot.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, snap Snapshot, image BinaryInput, req ExtractRequest) (model.ExtractionResult, error) {
	payload, err := o.run(ctx, snap, model.OpAnalyzeImage, int64(len(image.Data)/1024)+estimateTokens(req.Text),
		func(p model.Provider) string { return cache.BinaryKey(p, model.OpAnalyzeImage, image.Data) },
		func(ctx context.Context, c Client) ([]byte, Usage, error) {
			raw, usage, err := c.AnalyzeImage(ctx, image, req)
			if err != nil {
				return nil, usage, err
			}
			payload, err := json.Marshal(NormalizeResult(raw))
			return payload, usage, err
		})
	if err != nil {
		return model.ExtractionResult{}, err
	}
	return unmarshalResult(payload)
}

// TranscribeAudio runs the transcribe-audio operation.
func (o *Orchestrator) TranscribeAudio(ctx context.Context, snap Snapshot, audio BinaryInput) (string, error) {
	payload, err := o.run(ctx, snap, model.OpTranscribeAudio, int64(len(audio.Data)/1024),
		func(p model.Provider) string { return cache.BinaryKey(p, model.OpTranscribeAudio, audio.Data) },
		func(ctx context.Context, c Client) ([]byte, Usage, error) {
			text, usage, err := c.TranscribeAudio(ctx, audio)
			if err != nil {
				return nil, usage, err
			}
			return []byte(text), usage, nil
		})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// SuggestCategory runs the advisory suggest-category operation. It never
// fails past an exhausted chain: callers have no recovery path other than a
// default, so exhaustion yields the sentinel category.
func (o *Orchestrator) SuggestCategory(ctx context.Context, snap Snapshot, description string, categories []model.CategoryEntry) Suggestion {
	payload, err := o.run(ctx, snap, model.OpSuggestCategory, estimateTokens(description),
		func(p model.Provider) string { return cache.TextKey(p, model.OpSuggestCategory, description) },
		func(ctx context.Context, c Client) ([]byte, Usage, error) {
			raw, usage, err := c.SuggestCategory(ctx, description, categories)
			if err != nil {
				return nil, usage, err
			}
			if raw.Category == "" {
				raw.Category = model.FallbackCategory
			}
			payload, err := json.Marshal(Suggestion{Category: raw.Category, SubCategory: raw.SubCategory})
			return payload, usage, err
		})
	if err != nil {
		o.logger.Warn("category suggestion unavailable, using sentinel",
			"error", err)
		return Suggestion{Category: model.FallbackCategory}
	}

	var suggestion Suggestion
	if err := json.Unmarshal(payload, &suggestion); err != nil || suggestion.Category == "" {
		return Suggestion{Category: model.FallbackCategory}
	}
	return suggestion
}

// run drives one operation through the cache, the meter and the fallback
// chain. Each attempt is independently cached and rate-recorded, so a
// cold-started fallback provider is not penalized for the primary's failure.
func (o *Orchestrator) run(
	ctx context.Context,
	snap Snapshot,
	op model.Operation,
	estTokens int64,
	keyFn func(model.Provider) string,
	invoke func(context.Context, Client) ([]byte, Usage, error),
) ([]byte, error) {
	cfg, ok := snap.ForOperation(op)
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", op, common.ErrMissingConfig)
	}

	chain := o.resolveChain(cfg, op)
	if len(chain) == 0 {
		return nil, fmt.Errorf("operation %s has no capable provider: %w", op, common.ErrUnsupportedOperation)
	}
	hasFallback := len(cfg.Fallbacks) > 0

	timeout := cfg.AttemptTimeout
	if timeout == 0 {
		timeout = DefaultAttemptTimeout
	}

	var lastErr error
	for _, p := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := keyFn(p)
		if entry, found := o.cache.Get(key); found {
			o.logger.Debug("cache hit", "provider", p, "operation", op)
			return entry.Payload, nil
		}

		if !o.withinBudget(ctx, p, cfg, estTokens) {
			if !hasFallback {
				return nil, fmt.Errorf("provider %s throttled for %s: %w", p, op, common.ErrRateLimitExceeded)
			}
			o.logger.Info("provider throttled, trying next in chain", "provider", p, "operation", op)
			lastErr = common.ErrRateLimitExceeded
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		payload, usage, err := invoke(attemptCtx, o.clients[p])
		cancel()

		o.logUsage(p, op, usage, time.Since(start), err == nil)

		if err != nil {
			lastErr = err
			o.logger.Warn("provider attempt failed",
				"provider", p,
				"operation", op,
				"error", err)
			if !hasFallback {
				return nil, fmt.Errorf("provider %s failed for %s: %v: %w", p, op, err, common.ErrProviderUnavailable)
			}
			continue
		}

		o.meter.RecordUsage(ctx, p, model.MetricRequests, 1)
		o.meter.RecordUsage(ctx, p, model.MetricTokens, usage.TokensIn+usage.TokensOut)
		o.cache.Put(key, p, op, payload)

		return payload, nil
	}

	return nil, fmt.Errorf("all providers exhausted for %s: %v: %w", op, lastErr, common.ErrProviderUnavailable)
}

// resolveChain orders the active provider followed by its fallbacks,
// dropping duplicates, unknown providers and those without the capability.
func (o *Orchestrator) resolveChain(cfg OperationConfig, op model.Operation) []model.Provider {
	seen := make(map[model.Provider]bool)
	var chain []model.Provider

	for _, p := range append([]model.Provider{cfg.Provider}, cfg.Fallbacks...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true

		client, ok := o.clients[p]
		if !ok {
			o.logger.Warn("configured provider has no client", "provider", p)
			continue
		}
		if !client.Supports(op) {
			o.logger.Debug("provider skipped, capability missing", "provider", p, "operation", op)
			continue
		}
		chain = append(chain, p)
	}

	return chain
}

func (o *Orchestrator) withinBudget(ctx context.Context, p model.Provider, cfg OperationConfig, estTokens int64) bool {
	return o.meter.CheckLimit(ctx, p, model.MetricRequests, cfg.RequestsPerMinute, 1) &&
		o.meter.CheckLimit(ctx, p, model.MetricTokens, cfg.TokensPerMinute, estTokens)
}

// logUsage reports the attempt to the audit sink without ever blocking or
// failing the caller.
func (o *Orchestrator) logUsage(p model.Provider, op model.Operation, usage Usage, latency time.Duration, success bool) {
	if o.usage == nil {
		return
	}

	entry := service.UsageEntry{
		Timestamp: time.Now(),
		Provider:  p,
		Operation: op,
		TokensIn:  usage.TokensIn,
		TokensOut: usage.TokensOut,
		LatencyMS: latency.Milliseconds(),
		Success:   success,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.usage.LogUsage(ctx, entry); err != nil {
			o.logger.Warn("usage log write failed", "provider", p, "error", err)
		}
	}()
}

func unmarshalResult(payload []byte) (model.ExtractionResult, error) {
	var result model.ExtractionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return model.ExtractionResult{}, fmt.Errorf("decoding cached result: %w", err)
	}
	return result, nil
}

// estimateTokens approximates the token cost of a text before the call is
// made, for the pre-flight budget check.
func estimateTokens(text string) int64 {
	return int64(len(text)/4) + 1
}
