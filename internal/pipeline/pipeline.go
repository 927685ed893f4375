package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/index"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/provider"
	"github.com/granabot/grana/internal/service"
)

// Status is the terminal state of one pipeline run.
type Status string

// Terminal statuses.
const (
	StatusAutoRegistered      Status = "AUTO_REGISTERED"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusRejected            Status = "REJECTED"
)

// Thresholds gates the pipeline's phase transitions. Zero values fall back to
// defaults; every threshold is tunable because no single constant fits all
// tenants.
type Thresholds struct {
	// FastPath is the minimum retrieval score for resolving a message without
	// a provider call.
	FastPath float64
	// Revalidation is the minimum retrieval score for overriding the
	// provider's category choice.
	Revalidation float64
	// MinConfidence rejects records below it outright.
	MinConfidence float64
	// AutoRegister is the minimum confidence for registering without human
	// confirmation.
	AutoRegister float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.FastPath == 0 {
		t.FastPath = 0.75
	}
	if t.Revalidation == 0 {
		t.Revalidation = 0.6
	}
	if t.MinConfidence == 0 {
		t.MinConfidence = 0.3
	}
	if t.AutoRegister == 0 {
		t.AutoRegister = 0.85
	}
	return t
}

// Config tunes one pipeline instance.
type Config struct {
	Thresholds      Thresholds
	ConfirmationTTL time.Duration
}

// Request is one inbound message. Exactly one of Text, Image or Audio should
// carry content; audio is transcribed to text first, images go straight to
// the vision path.
type Request struct {
	TenantID  string
	AccountID string
	Text      string
	Image     []byte
	ImageMIME string
	Audio     []byte
	AudioMIME string
	// DisableRetrieval skips the index entirely: no fast path, no
	// revalidation.
	DisableRetrieval bool
	// Reprocessed marks a message re-entering the pipeline after a
	// confirmation round-trip. Such runs never refresh the index and never
	// spawn another confirmation, so a failing registration cannot loop.
	Reprocessed bool
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Status        Status
	Record        model.ExtractionResult
	Match         *model.RetrievalMatch
	Confirmation  *model.PendingConfirmation
	TransactionID string
	// Reason carries the user-facing explanation for REJECTED and for an
	// auto-register downgrade.
	Reason string
	// FastPath reports that no provider was called for extraction.
	FastPath bool
}

// Extractor is the provider-facing surface the pipeline consumes. Satisfied
// by *provider.Orchestrator.
type Extractor interface {
	ExtractText(ctx context.Context, snap provider.Snapshot, req provider.ExtractRequest) (model.ExtractionResult, error)
	AnalyzeImage(ctx context.Context, snap provider.Snapshot, image provider.BinaryInput, req provider.ExtractRequest) (model.ExtractionResult, error)
	TranscribeAudio(ctx context.Context, snap provider.Snapshot, audio provider.BinaryInput) (string, error)
	SuggestCategory(ctx context.Context, snap provider.Snapshot, description string, categories []model.CategoryEntry) provider.Suggestion
}

// Retriever is the index-facing surface the pipeline consumes. Satisfied by
// *index.Index.
type Retriever interface {
	Replace(tenantID string, entries []model.CategoryEntry)
	Query(tenantID, text string, q index.QueryOptions) []model.RetrievalMatch
}

// Pipeline drives START through AUTO_REGISTER/PENDING_CONFIRMATION/REJECTED
// for one message at a time. Instances are safe for concurrent use; all
// shared state lives behind the injected collaborators.
type Pipeline struct {
	extractor     Extractor
	retriever     Retriever
	categories    service.CategorySource
	sink          service.TransactionSink
	confirmations service.ConfirmationStore
	thresholds    Thresholds
	ttl           time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a pipeline. The confirmation store and sink may be nil when the
// host only wants extraction; registration then always degrades to a
// returned record.
func New(extractor Extractor, retriever Retriever, categories service.CategorySource, sink service.TransactionSink, confirmations service.ConfirmationStore, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmationTTL == 0 {
		cfg.ConfirmationTTL = 24 * time.Hour
	}

	return &Pipeline{
		extractor:     extractor,
		retriever:     retriever,
		categories:    categories,
		sink:          sink,
		confirmations: confirmations,
		thresholds:    cfg.Thresholds.withDefaults(),
		ttl:           cfg.ConfirmationTTL,
		logger:        logger,
		now:           time.Now,
	}
}

// Process runs one message through the state machine. Provider and
// transcription failures surface as errors; everything past extraction
// resolves to an Outcome.
func (p *Pipeline) Process(ctx context.Context, snap provider.Snapshot, req Request) (Outcome, error) {
	entries := p.loadCatalog(ctx, req)

	text := req.Text
	if len(req.Audio) > 0 {
		transcript, err := p.extractor.TranscribeAudio(ctx, snap, provider.BinaryInput{Data: req.Audio, MIME: req.AudioMIME})
		if err != nil {
			return Outcome{}, fmt.Errorf("transcribing audio: %w", err)
		}
		text = transcript
	}

	extractReq := provider.ExtractRequest{Text: text, Categories: entries}

	if len(req.Image) > 0 {
		record, err := p.extractor.AnalyzeImage(ctx, snap, provider.BinaryInput{Data: req.Image, MIME: req.ImageMIME}, extractReq)
		if err != nil {
			return Outcome{}, fmt.Errorf("analyzing image: %w", err)
		}
		return p.finish(ctx, req, p.revalidate(ctx, snap, req, record, entries))
	}

	if outcome, ok := p.fastMatch(req, text); ok {
		return p.finish(ctx, req, outcome)
	}

	record, err := p.extractor.ExtractText(ctx, snap, extractReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("extracting transaction: %w", err)
	}

	return p.finish(ctx, req, p.revalidate(ctx, snap, req, record, entries))
}

// loadCatalog fetches the tenant's categories and refreshes the index.
// Catalog failures degrade to an empty catalog: extraction still works, only
// resolution quality drops.
func (p *Pipeline) loadCatalog(ctx context.Context, req Request) []model.CategoryEntry {
	if p.categories == nil {
		return nil
	}

	entries, err := p.categories.GetCategories(ctx, req.TenantID, req.AccountID)
	if err != nil {
		p.logger.Warn("category catalog unavailable, extracting without it",
			"tenant_id", req.TenantID,
			"error", err)
		return nil
	}

	if !req.Reprocessed && !req.DisableRetrieval && len(entries) > 0 {
		p.retriever.Replace(req.TenantID, entries)
	}
	return entries
}

// fastMatch resolves the message from the index alone. It succeeds only when
// the top match clears the fast-path threshold and the rule-based extraction
// finds an amount; otherwise the AI path runs.
func (p *Pipeline) fastMatch(req Request, text string) (Outcome, bool) {
	if req.DisableRetrieval || text == "" {
		return Outcome{}, false
	}

	matches := p.retriever.Query(req.TenantID, text, index.QueryOptions{MaxResults: 1})
	if len(matches) == 0 || matches[0].Score < p.thresholds.FastPath {
		return Outcome{}, false
	}

	record, ok := RuleExtract(text, p.now())
	if !ok {
		return Outcome{}, false
	}

	match := matches[0]
	record.Category = match.CategoryName
	record.CategoryID = match.CategoryID
	record.SubCategory = match.SubCategoryName
	record.SubCategoryID = match.SubCategoryID
	record.Confidence = match.Score

	p.logger.Debug("fast path resolved message",
		"tenant_id", req.TenantID,
		"category", match.CategoryName,
		"score", match.Score)

	return Outcome{Record: record, Match: &match, FastPath: true}, true
}

// revalidate re-queries the index with the provider's own category text. A
// match above the revalidation threshold overrides the provider's choice
// unconditionally and boosts confidence by a tenth of the match score.
func (p *Pipeline) revalidate(ctx context.Context, snap provider.Snapshot, req Request, record model.ExtractionResult, entries []model.CategoryEntry) Outcome {
	outcome := Outcome{Record: record}
	if req.DisableRetrieval {
		return outcome
	}

	if match, ok := p.bestMatch(req.TenantID, record); ok {
		outcome.Record = applyMatch(record, match)
		outcome.Match = &match
		return outcome
	}

	// Nothing in the index agreed with the provider. When the provider gave
	// up on the category too, ask for an advisory suggestion against the
	// catalog and try the index once more with it.
	if (record.Category == model.FallbackCategory || record.Category == "") && len(entries) > 0 {
		suggestion := p.extractor.SuggestCategory(ctx, snap, record.Description, entries)
		if suggestion.Category != model.FallbackCategory {
			suggested := record
			suggested.Category = suggestion.Category
			suggested.SubCategory = suggestion.SubCategory
			if match, ok := p.bestMatch(req.TenantID, suggested); ok {
				outcome.Record = applyMatch(record, match)
				outcome.Match = &match
			}
		}
	}
	return outcome
}

// bestMatch queries with category text first and the description second.
func (p *Pipeline) bestMatch(tenantID string, record model.ExtractionResult) (model.RetrievalMatch, bool) {
	opts := index.QueryOptions{
		MinScore:        p.thresholds.Revalidation,
		MaxResults:      1,
		TransactionType: record.Type,
	}

	for _, query := range []string{
		strings.TrimSpace(record.Category + " " + record.SubCategory),
		record.Description,
	} {
		if query == "" {
			continue
		}
		if matches := p.retriever.Query(tenantID, query, opts); len(matches) > 0 {
			return matches[0], true
		}
	}
	return model.RetrievalMatch{}, false
}

func applyMatch(record model.ExtractionResult, match model.RetrievalMatch) model.ExtractionResult {
	record.Category = match.CategoryName
	record.CategoryID = match.CategoryID
	record.SubCategory = match.SubCategoryName
	record.SubCategoryID = match.SubCategoryID

	boosted := record.Confidence + match.Score*0.1
	if boosted > 1.0 {
		boosted = 1.0
	}
	record.Confidence = boosted
	return record
}

// finish validates the record and takes the registration decision.
func (p *Pipeline) finish(ctx context.Context, req Request, outcome Outcome) (Outcome, error) {
	outcome.Record = outcome.Record.Normalize()

	if err := outcome.Record.Validate(); err != nil {
		outcome.Status = StatusRejected
		outcome.Reason = common.UserMessage(err, "The transaction could not be validated.")
		return outcome, nil
	}
	if outcome.Record.Confidence < p.thresholds.MinConfidence {
		outcome.Status = StatusRejected
		outcome.Reason = fmt.Sprintf("Extraction confidence %.2f is below the minimum %.2f.", outcome.Record.Confidence, p.thresholds.MinConfidence)
		return outcome, nil
	}

	if outcome.Record.Resolved() && outcome.Record.Confidence >= p.thresholds.AutoRegister && p.sink != nil {
		id, err := p.sink.CreateTransaction(ctx, req.TenantID, outcome.Record)
		if err == nil {
			outcome.Status = StatusAutoRegistered
			outcome.TransactionID = id
			return outcome, nil
		}

		// Registration failure preserves the user's effort instead of
		// reporting total failure.
		p.logger.Warn("transaction registration failed, downgrading to confirmation",
			"tenant_id", req.TenantID,
			"error", err)
		outcome.Reason = common.UserMessage(
			fmt.Errorf("%v: %w", err, common.ErrRegistrationFailed),
			"Registration failed; the transaction awaits your confirmation.")
	}

	return p.toConfirmation(ctx, req, outcome)
}

// toConfirmation parks the record for explicit user review. Reprocessed runs
// never spawn another confirmation.
func (p *Pipeline) toConfirmation(ctx context.Context, req Request, outcome Outcome) (Outcome, error) {
	if req.Reprocessed {
		outcome.Status = StatusRejected
		if outcome.Reason == "" {
			outcome.Reason = "The transaction could not be registered after confirmation."
		}
		return outcome, nil
	}

	now := p.now()
	confirmation := model.PendingConfirmation{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Status:    model.ConfirmationPending,
		Record:    outcome.Record,
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}

	if p.confirmations != nil {
		if err := p.confirmations.Create(ctx, confirmation); err != nil {
			// The record itself still reaches the caller; only the durable
			// parking spot is gone.
			p.logger.Error("confirmation store write failed",
				"tenant_id", req.TenantID,
				"confirmation_id", confirmation.ID,
				"error", err)
		}
	}

	outcome.Status = StatusPendingConfirmation
	outcome.Confirmation = &confirmation
	return outcome, nil
}

// Confirm resolves a pending confirmation. Accepting registers the parked
// record; rejecting just closes it out. Expired confirmations are resolved as
// expired and reported as an error. Accepting without a configured sink is an
// error, never a panic.
func (p *Pipeline) Confirm(ctx context.Context, id string, accept bool) (Outcome, error) {
	if p.confirmations == nil {
		return Outcome{}, fmt.Errorf("no confirmation store configured: %w", common.ErrNotFound)
	}

	confirmation, err := p.confirmations.Get(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading confirmation %s: %w", id, err)
	}
	if confirmation.Status != model.ConfirmationPending {
		return Outcome{}, fmt.Errorf("confirmation %s already resolved as %s: %w", id, confirmation.Status, common.ErrValidationFailed)
	}
	if confirmation.Expired(p.now()) {
		if err := p.confirmations.Resolve(ctx, id, model.ConfirmationExpired); err != nil {
			p.logger.Warn("expiring confirmation failed", "confirmation_id", id, "error", err)
		}
		return Outcome{}, fmt.Errorf("confirmation %s has expired: %w", id, common.ErrValidationFailed)
	}

	if !accept {
		if err := p.confirmations.Resolve(ctx, id, model.ConfirmationRejected); err != nil {
			return Outcome{}, fmt.Errorf("rejecting confirmation %s: %w", id, err)
		}
		return Outcome{Status: StatusRejected, Record: confirmation.Record, Reason: "Rejected by user."}, nil
	}

	if p.sink == nil {
		return Outcome{}, common.NewUserError(
			"No transaction ledger is configured; the confirmation cannot be registered.",
			fmt.Errorf("confirmation %s: %w", id, common.ErrRegistrationFailed))
	}

	txID, err := p.sink.CreateTransaction(ctx, confirmation.TenantID, confirmation.Record)
	if err != nil {
		return Outcome{}, common.NewUserError(
			"Registering the confirmed transaction failed.",
			fmt.Errorf("%v: %w", err, common.ErrRegistrationFailed))
	}
	if err := p.confirmations.Resolve(ctx, id, model.ConfirmationAccepted); err != nil {
		p.logger.Warn("marking confirmation accepted failed", "confirmation_id", id, "error", err)
	}

	return Outcome{Status: StatusAutoRegistered, Record: confirmation.Record, TransactionID: txID}, nil
}
