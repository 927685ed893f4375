package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granabot/grana/internal/model"
)

func TestRuleExtractAmount(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		text     string
		expected float64
	}{
		{"brazilian currency mark", "gastei R$ 50 no mercado", 50},
		{"dollar sign", "paid $12.30 for parking", 12.30},
		{"decimal with dot", "spent 56.89 at the supermarket", 56.89},
		{"decimal with comma", "gastei 56,89 no mercado", 56.89},
		{"currency word", "lunch was 12 dollars", 12},
		{"bare integer", "paid 50 for the book", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := RuleExtract(tt.text, now)
			require.True(t, ok)
			assert.InDelta(t, tt.expected, result.Amount, 0.001)
		})
	}

	t.Run("no amount fails extraction", func(t *testing.T) {
		_, ok := RuleExtract("went to the supermarket", now)
		assert.False(t, ok)
	})
}

func TestRuleExtractType(t *testing.T) {
	now := time.Now()

	tests := []struct {
		text     string
		expected model.TransactionType
	}{
		{"recebi meu salário de 3000", model.TypeIncome},
		{"received 500 salary deposit", model.TypeIncome},
		{"ganhei 200 reais", model.TypeIncome},
		{"refund of 30 dollars", model.TypeIncome},
		{"gastei 56,89 no mercado", model.TypeExpense},
		{"paid 50 for gas", model.TypeExpense},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			result, ok := RuleExtract(tt.text, now)
			require.True(t, ok)
			assert.Equal(t, tt.expected, result.Type)
		})
	}
}

func TestRuleExtractDate(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	t.Run("explicit iso date", func(t *testing.T) {
		result, ok := RuleExtract("paid 50 on 2026-08-10", now)
		require.True(t, ok)
		assert.Equal(t, 10, result.Date.Day())
		assert.Equal(t, time.August, result.Date.Month())
	})

	t.Run("explicit slash date", func(t *testing.T) {
		result, ok := RuleExtract("paid 50 on 10/08/2026", now)
		require.True(t, ok)
		assert.Equal(t, 10, result.Date.Day())
	})

	t.Run("natural language english", func(t *testing.T) {
		result, ok := RuleExtract("spent 20 dollars yesterday", now)
		require.True(t, ok)
		assert.Equal(t, 14, result.Date.Day())
	})

	t.Run("natural language portuguese", func(t *testing.T) {
		result, ok := RuleExtract("gastei 20 reais ontem", now)
		require.True(t, ok)
		assert.Equal(t, 14, result.Date.Day())
	})

	t.Run("no date falls back to now", func(t *testing.T) {
		result, ok := RuleExtract("spent 20 on coffee", now)
		require.True(t, ok)
		assert.Equal(t, now, result.Date)
	})
}
