// Package meter tracks per-provider, per-metric usage in fixed one-minute
// windows and gates provider calls before they are issued.
package meter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/model"
)

const bucketWidth = time.Minute

// degraded classifies a store failure so logs and callers can tell substrate
// trouble apart from domain errors.
func degraded(err error) error {
	return fmt.Errorf("%v: %w", err, common.ErrStorageDegraded)
}

// Store is the counting substrate. The default MemoryStore never fails, but
// the interface exists so a networked substrate can be dropped in; the meter
// fails open when it errors.
type Store interface {
	// Incr adds to a counter and (re)sets its expiry, returning the new value.
	Incr(ctx context.Context, key string, by int64, expiry time.Duration) (int64, error)
	// Get reads a counter; missing keys read as 0.
	Get(ctx context.Context, key string) (int64, error)
	// DeletePrefix removes all counters whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Usage reports a provider's counters for the current minute.
type Usage struct {
	ResetAt time.Time
	Counts  map[string]int64
}

// Meter implements hard per-minute caps. A limit of 0 means unlimited for
// that metric. On store failure it fails open: availability over strictness
// when the counting substrate itself is degraded.
type Meter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Meter.
type Option func(*Meter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// New creates a Meter on the given store.
func New(store Store, logger *slog.Logger, opts ...Option) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meter{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// bucket returns the current minute bucket number.
func (m *Meter) bucket() int64 {
	return m.now().UnixMilli() / bucketWidth.Milliseconds()
}

func key(provider model.Provider, metric string, bucket int64) string {
	return fmt.Sprintf("usage:%s:%s:%d", provider, metric, bucket)
}

// CheckLimit reports whether estimated additional usage fits under the limit
// for the current minute. Only the current bucket is read: this is a hard
// per-minute cap, not a token bucket.
func (m *Meter) CheckLimit(ctx context.Context, provider model.Provider, metric string, limit, estimated int64) bool {
	if limit <= 0 {
		return true
	}

	current, err := m.store.Get(ctx, key(provider, metric, m.bucket()))
	if err != nil {
		m.logger.Warn("usage store read failed, failing open",
			"provider", provider,
			"metric", metric,
			"error", degraded(err))
		return true
	}

	return current+estimated <= limit
}

// RecordUsage adds to the current bucket's counter. The expiry is roughly
// twice the bucket width so a read issued just after a boundary still finds
// the previous, still-live counter for reporting.
func (m *Meter) RecordUsage(ctx context.Context, provider model.Provider, metric string, amount int64) {
	if amount <= 0 {
		return
	}

	if _, err := m.store.Incr(ctx, key(provider, metric, m.bucket()), amount, 2*bucketWidth); err != nil {
		m.logger.Warn("usage store write failed, dropping sample",
			"provider", provider,
			"metric", metric,
			"error", degraded(err))
	}
}

// CurrentUsage returns the provider's counters for the current minute and
// when the window resets.
func (m *Meter) CurrentUsage(ctx context.Context, provider model.Provider) Usage {
	bucket := m.bucket()
	counts := make(map[string]int64, 2)

	for _, metric := range []string{model.MetricRequests, model.MetricTokens} {
		n, err := m.store.Get(ctx, key(provider, metric, bucket))
		if err != nil {
			m.logger.Warn("usage store read failed", "provider", provider, "metric", metric, "error", degraded(err))
			continue
		}
		counts[metric] = n
	}

	return Usage{
		Counts:  counts,
		ResetAt: time.UnixMilli((bucket + 1) * bucketWidth.Milliseconds()),
	}
}

// Reset clears counters for one provider, or for all when provider is empty.
func (m *Meter) Reset(ctx context.Context, provider model.Provider) error {
	prefix := "usage:"
	if provider != "" {
		prefix = fmt.Sprintf("usage:%s:", provider)
	}
	if err := m.store.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("resetting usage counters: %w", degraded(err))
	}
	return nil
}

// MemoryStore is an in-process Store with atomic increment-and-expire.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
	now     func() time.Time
}

type memoryCounter struct {
	expiresAt time.Time
	value     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, by int64, expiry time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryCounter{}
		s.entries[key] = entry
	}
	entry.value += by
	entry.expiresAt = now.Add(expiry)

	// Opportunistic sweep keeps the map bounded without a janitor goroutine.
	if len(s.entries) > 4096 {
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}

	return entry.value, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.value, nil
}

// DeletePrefix implements Store.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.entries, k)
		}
	}
	return nil
}
