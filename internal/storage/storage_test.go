package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/service"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStorage(t)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, s.Migrate(context.Background()))
	})

	t.Run("schema version matches", func(t *testing.T) {
		var version int
		require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
		assert.Equal(t, ExpectedSchemaVersion, version)
	})
}

func TestCategories(t *testing.T) {
	ctx := context.Background()

	entries := []model.CategoryEntry{
		{CategoryID: "c1", CategoryName: "Food", SubCategoryID: "s1", SubCategoryName: "Supermarket", TransactionType: model.TypeExpense},
		{CategoryID: "c1", CategoryName: "Food", SubCategoryID: "s2", SubCategoryName: "Restaurant", TransactionType: model.TypeExpense},
		{CategoryID: "c2", CategoryName: "Salary", SubCategoryID: "s3", SubCategoryName: "Paycheck", TransactionType: model.TypeIncome, AccountID: "acc-1"},
	}

	t.Run("replace and get round trip", func(t *testing.T) {
		s := newTestStorage(t)
		require.NoError(t, s.ReplaceCategories(ctx, "t1", entries))

		got, err := s.GetCategories(ctx, "t1", "")
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("account filter keeps shared entries", func(t *testing.T) {
		s := newTestStorage(t)
		require.NoError(t, s.ReplaceCategories(ctx, "t1", entries))

		got, err := s.GetCategories(ctx, "t1", "acc-1")
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = s.GetCategories(ctx, "t1", "acc-2")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("replace discards previous catalog", func(t *testing.T) {
		s := newTestStorage(t)
		require.NoError(t, s.ReplaceCategories(ctx, "t1", entries))
		require.NoError(t, s.ReplaceCategories(ctx, "t1", entries[:1]))

		got, err := s.GetCategories(ctx, "t1", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Supermarket", got[0].SubCategoryName)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		s := newTestStorage(t)
		require.NoError(t, s.ReplaceCategories(ctx, "t1", entries))

		got, err := s.GetCategories(ctx, "t2", "")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestConfirmations(t *testing.T) {
	ctx := context.Background()

	newConfirmation := func(ttl time.Duration) model.PendingConfirmation {
		now := time.Now().UTC().Truncate(time.Second)
		return model.PendingConfirmation{
			ID:       uuid.NewString(),
			TenantID: "t1",
			Status:   model.ConfirmationPending,
			Record: model.ExtractionResult{
				Type:       model.TypeExpense,
				Category:   "Food",
				Amount:     56.89,
				Confidence: 0.7,
				Date:       now,
			},
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
	}

	t.Run("create and get round trip", func(t *testing.T) {
		s := newTestStorage(t)
		c := newConfirmation(time.Hour)
		require.NoError(t, s.Create(ctx, c))

		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.TenantID, got.TenantID)
		assert.Equal(t, model.ConfirmationPending, got.Status)
		assert.InDelta(t, 56.89, got.Record.Amount, 0.001)
	})

	t.Run("get unknown id", func(t *testing.T) {
		s := newTestStorage(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("resolve updates status", func(t *testing.T) {
		s := newTestStorage(t)
		c := newConfirmation(time.Hour)
		require.NoError(t, s.Create(ctx, c))
		require.NoError(t, s.Resolve(ctx, c.ID, model.ConfirmationAccepted))

		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConfirmationAccepted, got.Status)
	})

	t.Run("resolve unknown id", func(t *testing.T) {
		s := newTestStorage(t)
		err := s.Resolve(ctx, "missing", model.ConfirmationAccepted)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("expire stale sweeps only overdue pending", func(t *testing.T) {
		s := newTestStorage(t)
		stale := newConfirmation(-time.Hour)
		fresh := newConfirmation(time.Hour)
		resolved := newConfirmation(-time.Hour)
		require.NoError(t, s.Create(ctx, stale))
		require.NoError(t, s.Create(ctx, fresh))
		require.NoError(t, s.Create(ctx, resolved))
		require.NoError(t, s.Resolve(ctx, resolved.ID, model.ConfirmationRejected))

		n, err := s.ExpireStale(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.Get(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConfirmationExpired, got.Status)

		got, err = s.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConfirmationPending, got.Status)
	})
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()

	record := model.ExtractionResult{
		Type:       model.TypeExpense,
		Category:   "Food",
		CategoryID: "c1",
		Amount:     56.89,
		Confidence: 0.9,
		Date:       time.Now().UTC().Truncate(time.Second),
	}

	t.Run("create and list round trip", func(t *testing.T) {
		s := newTestStorage(t)

		id, err := s.CreateTransaction(ctx, "t1", record)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		txs, err := s.ListTransactions(ctx, "t1", 0)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, id, txs[0].ID)
		assert.InDelta(t, 56.89, txs[0].Record.Amount, 0.001)
	})

	t.Run("invalid record refused", func(t *testing.T) {
		s := newTestStorage(t)
		bad := record
		bad.Amount = -1

		_, err := s.CreateTransaction(ctx, "t1", bad)
		assert.Error(t, err)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		s := newTestStorage(t)
		_, err := s.CreateTransaction(ctx, "t1", record)
		require.NoError(t, err)

		txs, err := s.ListTransactions(ctx, "t2", 0)
		require.NoError(t, err)
		assert.Empty(t, txs)
	})
}

func TestUsageLog(t *testing.T) {
	ctx := context.Background()

	entry := func(p model.Provider, op model.Operation, success bool) service.UsageEntry {
		return service.UsageEntry{
			Timestamp: time.Now().UTC(),
			Provider:  p,
			Operation: op,
			TokensIn:  100,
			TokensOut: 50,
			LatencyMS: 250,
			Success:   success,
		}
	}

	t.Run("log and summarize", func(t *testing.T) {
		s := newTestStorage(t)
		require.NoError(t, s.LogUsage(ctx, entry(model.ProviderOpenAI, model.OpExtractText, true)))
		require.NoError(t, s.LogUsage(ctx, entry(model.ProviderOpenAI, model.OpExtractText, false)))
		require.NoError(t, s.LogUsage(ctx, entry(model.ProviderGemini, model.OpAnalyzeImage, true)))

		summaries, err := s.UsageSince(ctx, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		assert.Equal(t, model.ProviderGemini, summaries[0].Provider)
		assert.Equal(t, int64(1), summaries[0].Requests)

		assert.Equal(t, model.ProviderOpenAI, summaries[1].Provider)
		assert.Equal(t, int64(2), summaries[1].Requests)
		assert.Equal(t, int64(200), summaries[1].TokensIn)
		assert.Equal(t, int64(1), summaries[1].Failures)
	})

	t.Run("since filter excludes old entries", func(t *testing.T) {
		s := newTestStorage(t)
		old := entry(model.ProviderOpenAI, model.OpExtractText, true)
		old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
		require.NoError(t, s.LogUsage(ctx, old))

		summaries, err := s.UsageSince(ctx, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})
}
