package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/index"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/provider"
)

type stubExtractor struct {
	extractResult model.ExtractionResult
	extractErr    error
	transcript    string
	suggestion    provider.Suggestion

	extractCalls    int
	imageCalls      int
	transcribeCalls int
	suggestCalls    int
}

func (s *stubExtractor) ExtractText(_ context.Context, _ provider.Snapshot, _ provider.ExtractRequest) (model.ExtractionResult, error) {
	s.extractCalls++
	return s.extractResult, s.extractErr
}

func (s *stubExtractor) AnalyzeImage(_ context.Context, _ provider.Snapshot, _ provider.BinaryInput, _ provider.ExtractRequest) (model.ExtractionResult, error) {
	s.imageCalls++
	return s.extractResult, s.extractErr
}

func (s *stubExtractor) TranscribeAudio(_ context.Context, _ provider.Snapshot, _ provider.BinaryInput) (string, error) {
	s.transcribeCalls++
	return s.transcript, nil
}

func (s *stubExtractor) SuggestCategory(_ context.Context, _ provider.Snapshot, _ string, _ []model.CategoryEntry) provider.Suggestion {
	s.suggestCalls++
	if s.suggestion.Category == "" {
		return provider.Suggestion{Category: model.FallbackCategory}
	}
	return s.suggestion
}

type stubRetriever struct {
	matches      []model.RetrievalMatch
	queryFunc    func(text string, q index.QueryOptions) []model.RetrievalMatch
	replaceCalls int
	queryCalls   int
}

func (s *stubRetriever) Replace(string, []model.CategoryEntry) { s.replaceCalls++ }

func (s *stubRetriever) Query(_, text string, q index.QueryOptions) []model.RetrievalMatch {
	s.queryCalls++
	if s.queryFunc != nil {
		return s.queryFunc(text, q)
	}
	var out []model.RetrievalMatch
	for _, m := range s.matches {
		if m.Score >= q.MinScore {
			out = append(out, m)
		}
	}
	return out
}

type stubCategories struct {
	entries []model.CategoryEntry
	err     error
}

func (s *stubCategories) GetCategories(context.Context, string, string) ([]model.CategoryEntry, error) {
	return s.entries, s.err
}

type stubSink struct {
	err   error
	calls int
}

func (s *stubSink) CreateTransaction(context.Context, string, model.ExtractionResult) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "tx-123", nil
}

type memConfirmations struct {
	mu      sync.Mutex
	records map[string]model.PendingConfirmation
	err     error
}

func newMemConfirmations() *memConfirmations {
	return &memConfirmations{records: map[string]model.PendingConfirmation{}}
}

func (m *memConfirmations) Create(_ context.Context, c model.PendingConfirmation) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[c.ID] = c
	return nil
}

func (m *memConfirmations) Get(_ context.Context, id string) (model.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[id]
	if !ok {
		return model.PendingConfirmation{}, common.ErrNotFound
	}
	return c, nil
}

func (m *memConfirmations) Resolve(_ context.Context, id string, status model.ConfirmationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[id]
	if !ok {
		return common.ErrNotFound
	}
	c.Status = status
	m.records[id] = c
	return nil
}

func (m *memConfirmations) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.records {
		if c.Status == model.ConfirmationPending && c.Expired(now) {
			c.Status = model.ConfirmationExpired
			m.records[id] = c
			n++
		}
	}
	return n, nil
}

type fixture struct {
	pipeline      *Pipeline
	extractor     *stubExtractor
	retriever     *stubRetriever
	sink          *stubSink
	confirmations *memConfirmations
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		extractor: &stubExtractor{
			extractResult: model.ExtractionResult{
				Type:        model.TypeExpense,
				Amount:      56.89,
				Category:    "Groceries",
				Description: "supermarket run",
				Confidence:  0.70,
			},
		},
		retriever:     &stubRetriever{},
		sink:          &stubSink{},
		confirmations: newMemConfirmations(),
	}

	categories := &stubCategories{entries: []model.CategoryEntry{
		{CategoryID: "c1", CategoryName: "Food", SubCategoryID: "s1", SubCategoryName: "Supermarket"},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.pipeline = New(f.extractor, f.retriever, categories, f.sink, f.confirmations, cfg, logger)
	return f
}

func supermarketMatch(score float64) model.RetrievalMatch {
	return model.RetrievalMatch{
		CategoryID:      "c1",
		CategoryName:    "Food",
		SubCategoryID:   "s1",
		SubCategoryName: "Supermarket",
		Score:           score,
	}
}

func TestPipelineFastPath(t *testing.T) {
	ctx := context.Background()
	snap := provider.DefaultSnapshot(model.ProviderOpenAI)

	t.Run("high match resolves without any provider call", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "gastei 56,89 no mercado"})
		require.NoError(t, err)

		assert.True(t, outcome.FastPath)
		assert.Equal(t, 0, f.extractor.extractCalls)
		assert.Equal(t, 0, f.extractor.imageCalls)
		assert.Equal(t, "Food", outcome.Record.Category)
		assert.Equal(t, "c1", outcome.Record.CategoryID)
		assert.InDelta(t, 56.89, outcome.Record.Amount, 0.001)
		assert.Equal(t, StatusAutoRegistered, outcome.Status)
		assert.Equal(t, "tx-123", outcome.TransactionID)
	})

	t.Run("low match falls through to extraction", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.5)}

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "gastei 56,89 no mercado"})
		require.NoError(t, err)

		assert.False(t, outcome.FastPath)
		assert.Equal(t, 1, f.extractor.extractCalls)
	})

	t.Run("high match without a rule-extractable amount still needs the provider", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}

		_, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "went grocery shopping at the supermarket"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.extractor.extractCalls)
	})

	t.Run("retrieval disabled skips index entirely", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}

		_, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "gastei 56,89 no mercado", DisableRetrieval: true})
		require.NoError(t, err)

		assert.Equal(t, 0, f.retriever.replaceCalls)
		assert.Equal(t, 0, f.retriever.queryCalls)
		assert.Equal(t, 1, f.extractor.extractCalls)
	})
}

func TestPipelineRevalidation(t *testing.T) {
	ctx := context.Background()
	snap := provider.DefaultSnapshot(model.ProviderOpenAI)

	t.Run("match overrides provider category and boosts confidence", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.88)}
		f.extractor.extractResult.Confidence = 0.70

		// No amount in the text keeps the fast path from short-circuiting.
		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)

		assert.Equal(t, "Food", outcome.Record.Category)
		assert.Equal(t, "Supermarket", outcome.Record.SubCategory)
		assert.InDelta(t, 0.788, outcome.Record.Confidence, 0.0001)
		require.NotNil(t, outcome.Match)
		assert.InDelta(t, 0.88, outcome.Match.Score, 0.0001)
	})

	t.Run("boosted confidence is capped at one", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.95)}
		f.extractor.extractResult.Confidence = 0.98

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, outcome.Record.Confidence, 0.0001)
	})

	t.Run("no match keeps provider category", func(t *testing.T) {
		f := newFixture(Config{})

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)

		assert.Equal(t, "Groceries", outcome.Record.Category)
		assert.Empty(t, outcome.Record.CategoryID)
		assert.InDelta(t, 0.70, outcome.Record.Confidence, 0.0001)
	})

	t.Run("fallback category consults the advisory suggestion", func(t *testing.T) {
		f := newFixture(Config{})
		f.extractor.extractResult.Category = model.FallbackCategory
		f.extractor.suggestion = provider.Suggestion{Category: "Food", SubCategory: "Supermarket"}
		// The index only matches once the suggested category text is queried.
		f.retriever.queryFunc = func(text string, _ index.QueryOptions) []model.RetrievalMatch {
			if strings.Contains(text, "Food") {
				return []model.RetrievalMatch{supermarketMatch(0.9)}
			}
			return nil
		}

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.extractor.suggestCalls)
		assert.Equal(t, "Food", outcome.Record.Category)
		assert.Equal(t, "c1", outcome.Record.CategoryID)
	})
}

func TestPipelineDecision(t *testing.T) {
	ctx := context.Background()
	snap := provider.DefaultSnapshot(model.ProviderOpenAI)

	t.Run("resolved record below auto-register threshold awaits confirmation", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.88)}
		f.extractor.extractResult.Confidence = 0.70

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)

		assert.Equal(t, StatusPendingConfirmation, outcome.Status)
		require.NotNil(t, outcome.Confirmation)
		assert.Equal(t, model.ConfirmationPending, outcome.Confirmation.Status)
		assert.Equal(t, 0, f.sink.calls)

		stored, err := f.confirmations.Get(ctx, outcome.Confirmation.ID)
		require.NoError(t, err)
		assert.Equal(t, "Food", stored.Record.Category)
	})

	t.Run("unresolved record never auto-registers", func(t *testing.T) {
		f := newFixture(Config{})
		f.extractor.extractResult.Confidence = 0.99

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)

		assert.Equal(t, StatusPendingConfirmation, outcome.Status)
		assert.Equal(t, 0, f.sink.calls)
	})

	t.Run("confidence below minimum is rejected with a reason", func(t *testing.T) {
		f := newFixture(Config{})
		f.extractor.extractResult.Confidence = 0.1

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)

		assert.Equal(t, StatusRejected, outcome.Status)
		assert.NotEmpty(t, outcome.Reason)
		assert.Nil(t, outcome.Confirmation)
	})

	t.Run("registration failure downgrades to confirmation", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}
		f.sink.err = fmt.Errorf("ledger unavailable")

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "gastei 56,89 no mercado"})
		require.NoError(t, err)

		assert.Equal(t, StatusPendingConfirmation, outcome.Status)
		assert.NotEmpty(t, outcome.Reason)
		require.NotNil(t, outcome.Confirmation)
		assert.Equal(t, 1, f.sink.calls)
	})

	t.Run("reprocessed run never spawns another confirmation", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}
		f.sink.err = fmt.Errorf("ledger unavailable")

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "gastei 56,89 no mercado", Reprocessed: true})
		require.NoError(t, err)

		assert.Equal(t, StatusRejected, outcome.Status)
		assert.Nil(t, outcome.Confirmation)
		assert.Equal(t, 0, f.retriever.replaceCalls)
	})

	t.Run("provider failure surfaces as error", func(t *testing.T) {
		f := newFixture(Config{})
		f.extractor.extractErr = common.ErrProviderUnavailable

		_, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	})
}

func TestPipelineMediaInputs(t *testing.T) {
	ctx := context.Background()
	snap := provider.DefaultSnapshot(model.ProviderOpenAI)

	t.Run("audio is transcribed then processed as text", func(t *testing.T) {
		f := newFixture(Config{})
		f.extractor.transcript = "gastei 56,89 no mercado"
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Audio: []byte("ogg"), AudioMIME: "audio/ogg"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.extractor.transcribeCalls)
		assert.True(t, outcome.FastPath)
		assert.Equal(t, 0, f.extractor.extractCalls)
	})

	t.Run("image goes straight to the vision path", func(t *testing.T) {
		f := newFixture(Config{})
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.9)}

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Image: []byte("png"), ImageMIME: "image/png"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.extractor.imageCalls)
		assert.Equal(t, 0, f.extractor.extractCalls)
		assert.False(t, outcome.FastPath)
	})
}

func TestPipelineConfirm(t *testing.T) {
	ctx := context.Background()
	snap := provider.DefaultSnapshot(model.ProviderOpenAI)

	pending := func(t *testing.T, f *fixture) model.PendingConfirmation {
		t.Helper()
		f.retriever.matches = []model.RetrievalMatch{supermarketMatch(0.88)}
		f.extractor.extractResult.Confidence = 0.70

		outcome, err := f.pipeline.Process(ctx, snap, Request{TenantID: "t1", Text: "compras no mercado"})
		require.NoError(t, err)
		require.NotNil(t, outcome.Confirmation)
		return *outcome.Confirmation
	}

	t.Run("accept registers the parked record", func(t *testing.T) {
		f := newFixture(Config{})
		c := pending(t, f)

		outcome, err := f.pipeline.Confirm(ctx, c.ID, true)
		require.NoError(t, err)

		assert.Equal(t, StatusAutoRegistered, outcome.Status)
		assert.Equal(t, "tx-123", outcome.TransactionID)

		stored, err := f.confirmations.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConfirmationAccepted, stored.Status)
	})

	t.Run("reject closes out without registering", func(t *testing.T) {
		f := newFixture(Config{})
		c := pending(t, f)

		outcome, err := f.pipeline.Confirm(ctx, c.ID, false)
		require.NoError(t, err)

		assert.Equal(t, StatusRejected, outcome.Status)
		assert.Equal(t, 0, f.sink.calls)

		stored, err := f.confirmations.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConfirmationRejected, stored.Status)
	})

	t.Run("expired confirmation cannot be accepted", func(t *testing.T) {
		f := newFixture(Config{ConfirmationTTL: time.Nanosecond})
		c := pending(t, f)
		time.Sleep(10 * time.Millisecond)

		_, err := f.pipeline.Confirm(ctx, c.ID, true)
		require.Error(t, err)

		stored, err := f.confirmations.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConfirmationExpired, stored.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(Config{})
		_, err := f.pipeline.Confirm(ctx, "missing", true)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("accept without a sink fails instead of panicking", func(t *testing.T) {
		f := newFixture(Config{})
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		f.pipeline = New(f.extractor, f.retriever, nil, nil, f.confirmations, Config{}, logger)
		c := pending(t, f)

		outcome, err := f.pipeline.Confirm(ctx, c.ID, true)
		require.Error(t, err)

		assert.ErrorIs(t, err, common.ErrRegistrationFailed)
		assert.NotEmpty(t, common.UserMessage(err, ""))
		assert.Empty(t, outcome.TransactionID)
	})

	t.Run("already resolved", func(t *testing.T) {
		f := newFixture(Config{})
		c := pending(t, f)

		_, err := f.pipeline.Confirm(ctx, c.ID, false)
		require.NoError(t, err)
		_, err = f.pipeline.Confirm(ctx, c.ID, true)
		assert.ErrorIs(t, err, common.ErrValidationFailed)
	})
}
