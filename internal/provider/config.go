package provider

import (
	"time"

	"github.com/granabot/grana/internal/model"
)

// DefaultAttemptTimeout bounds each provider attempt so a slow provider
// cannot stall the fallback loop indefinitely.
const DefaultAttemptTimeout = 30 * time.Second

// OperationConfig drives one operation kind: which provider is active, which
// providers back it up, and the per-minute budgets. A limit of 0 means
// unlimited for that metric; an empty fallback chain disables fallback.
type OperationConfig struct {
	Provider          model.Provider
	Fallbacks         []model.Provider
	RequestsPerMinute int64
	TokensPerMinute   int64
	AttemptTimeout    time.Duration
}

// Snapshot is an atomically-swappable view of the orchestrator's dynamic
// configuration. Callers build a fresh one whenever configuration changes
// and pass it per call; the orchestrator never holds ambient config state.
type Snapshot struct {
	Operations map[model.Operation]OperationConfig
}

// ForOperation returns the config for op and whether one exists.
func (s Snapshot) ForOperation(op model.Operation) (OperationConfig, bool) {
	cfg, ok := s.Operations[op]
	return cfg, ok
}

// DefaultSnapshot routes every operation to the given provider with no
// fallbacks and no limits. Useful for tests and single-provider setups.
func DefaultSnapshot(p model.Provider) Snapshot {
	ops := make(map[model.Operation]OperationConfig, 4)
	for _, op := range []model.Operation{model.OpExtractText, model.OpAnalyzeImage, model.OpTranscribeAudio, model.OpSuggestCategory} {
		ops[op] = OperationConfig{Provider: p}
	}
	return Snapshot{Operations: ops}
}
