package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granabot/grana/internal/model"
)

func testEntries() []model.CategoryEntry {
	return []model.CategoryEntry{
		{CategoryID: "c1", CategoryName: "Food", SubCategoryID: "s1", SubCategoryName: "Supermarket", AccountID: "a1", TransactionType: model.TypeExpense},
		{CategoryID: "c2", CategoryName: "Transport", SubCategoryID: "s2", SubCategoryName: "Fuel", AccountID: "a1", TransactionType: model.TypeExpense},
		{CategoryID: "c3", CategoryName: "Educação", AccountID: "a1", TransactionType: model.TypeExpense},
		{CategoryID: "c4", CategoryName: "Salary", AccountID: "a1", TransactionType: model.TypeIncome},
	}
}

func TestQuery(t *testing.T) {
	ix := New(DefaultSynonyms(), Options{}, nil)
	ix.Replace("tenant-1", testEntries())

	t.Run("supermarket message resolves to Food/Supermarket", func(t *testing.T) {
		matches := ix.Query("tenant-1", "spent 56.89 at the supermarket", QueryOptions{MinScore: 0.4})
		require.NotEmpty(t, matches)
		assert.Equal(t, "Food", matches[0].CategoryName)
		assert.Equal(t, "Supermarket", matches[0].SubCategoryName)
		assert.GreaterOrEqual(t, matches[0].Score, 0.4)
	})

	t.Run("exact name match scores above 0.9", func(t *testing.T) {
		matches := ix.Query("tenant-1", "Supermarket", QueryOptions{})
		require.NotEmpty(t, matches)
		assert.Greater(t, matches[0].Score, 0.9)
		assert.Equal(t, "s1", matches[0].SubCategoryID)
	})

	t.Run("diacritic and case variants match identically", func(t *testing.T) {
		var tops []model.RetrievalMatch
		for _, q := range []string{"Educação", "EDUCACAO", "educação"} {
			matches := ix.Query("tenant-1", q, QueryOptions{MinScore: 0.4})
			require.NotEmpty(t, matches, "query %q", q)
			tops = append(tops, matches[0])
		}
		assert.Equal(t, tops[0], tops[1])
		assert.Equal(t, tops[1], tops[2])
		assert.Equal(t, "c3", tops[0].CategoryID)
	})

	t.Run("results sorted descending and above min score", func(t *testing.T) {
		matches := ix.Query("tenant-1", "food transport supermarket fuel", QueryOptions{MinScore: 0.1})
		require.GreaterOrEqual(t, len(matches), 2)
		for i := 1; i < len(matches); i++ {
			assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
		}
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Score, 0.1)
		}
	})

	t.Run("zero lexical overlap yields no matches", func(t *testing.T) {
		matches := ix.Query("tenant-1", "xyzzy plugh", QueryOptions{MinScore: 0.01})
		assert.Empty(t, matches)
	})

	t.Run("empty index yields empty result", func(t *testing.T) {
		assert.Empty(t, ix.Query("unknown-tenant", "supermarket", QueryOptions{}))
	})

	t.Run("empty query yields empty result", func(t *testing.T) {
		assert.Empty(t, ix.Query("tenant-1", "", QueryOptions{}))
	})

	t.Run("max results truncates", func(t *testing.T) {
		matches := ix.Query("tenant-1", "food transport supermarket fuel", QueryOptions{MinScore: 0.1, MaxResults: 1})
		assert.Len(t, matches, 1)
	})

	t.Run("type filter excludes before scoring", func(t *testing.T) {
		matches := ix.Query("tenant-1", "salary", QueryOptions{TransactionType: model.TypeExpense})
		for _, m := range matches {
			assert.NotEqual(t, "c4", m.CategoryID)
		}

		matches = ix.Query("tenant-1", "salary", QueryOptions{TransactionType: model.TypeIncome})
		require.NotEmpty(t, matches)
		assert.Equal(t, "c4", matches[0].CategoryID)
	})
}

func TestSynonymScoring(t *testing.T) {
	ix := New(DefaultSynonyms(), Options{}, nil)
	ix.Replace("t", testEntries())

	t.Run("colloquial fuel term reaches the fuel subcategory", func(t *testing.T) {
		matches := ix.Query("t", "gasolina 120 no posto", QueryOptions{MinScore: 0.3})
		require.NotEmpty(t, matches)
		assert.Equal(t, "Fuel", matches[0].SubCategoryName)
	})

	t.Run("subcategory synonym matches are down-weighted", func(t *testing.T) {
		ix2 := New(DefaultSynonyms(), Options{}, nil)
		ix2.Replace("t", []model.CategoryEntry{
			{CategoryID: "c1", CategoryName: "Fuel"},
			{CategoryID: "c2", CategoryName: "Car", SubCategoryID: "s1", SubCategoryName: "Fuel"},
		})

		matches := ix2.Query("t", "gasolina", QueryOptions{})
		require.Len(t, matches, 2)
		// Category-level synonym match keeps full weight; the subcategory one
		// carries the 0.8x factor and half the entry's token mass.
		assert.Equal(t, "c1", matches[0].CategoryID)
		assert.Greater(t, matches[0].Score, matches[1].Score)
	})
}

func TestFuzzyMatching(t *testing.T) {
	ix := New(DefaultSynonyms(), Options{}, nil)
	ix.Replace("t", testEntries())

	matches := ix.Query("t", "compras no supermarkt", QueryOptions{MinScore: 0.3})
	require.NotEmpty(t, matches)
	assert.Equal(t, "Supermarket", matches[0].SubCategoryName)
}

func TestReplaceAndPurge(t *testing.T) {
	t.Run("replace is wholesale", func(t *testing.T) {
		ix := New(DefaultSynonyms(), Options{}, nil)
		ix.Replace("t", testEntries())
		ix.Replace("t", []model.CategoryEntry{{CategoryID: "c9", CategoryName: "Pets"}})

		assert.Empty(t, ix.Query("t", "supermarket", QueryOptions{MinScore: 0.1}))
		assert.NotEmpty(t, ix.Query("t", "pets", QueryOptions{MinScore: 0.1}))
	})

	t.Run("purge single tenant", func(t *testing.T) {
		ix := New(DefaultSynonyms(), Options{}, nil)
		ix.Replace("a", testEntries())
		ix.Replace("b", testEntries())

		ix.Purge("a")
		assert.Empty(t, ix.Query("a", "supermarket", QueryOptions{}))
		assert.NotEmpty(t, ix.Query("b", "supermarket", QueryOptions{MinScore: 0.1}))
	})

	t.Run("purge all tenants", func(t *testing.T) {
		ix := New(DefaultSynonyms(), Options{}, nil)
		ix.Replace("a", testEntries())
		ix.Replace("b", testEntries())

		ix.Purge("")
		assert.Empty(t, ix.Query("a", "supermarket", QueryOptions{}))
		assert.Empty(t, ix.Query("b", "supermarket", QueryOptions{}))
	})

	t.Run("concurrent replace and query", func(t *testing.T) {
		ix := New(DefaultSynonyms(), Options{}, nil)
		ix.Replace("t", testEntries())

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(2)
			go func(n int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					ix.Replace(fmt.Sprintf("tenant-%d", n), testEntries())
				}
			}(w)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					matches := ix.Query("t", "supermarket", QueryOptions{MinScore: 0.1})
					// Either the old or new snapshot, never a torn one.
					if len(matches) > 0 {
						assert.NotEmpty(t, matches[0].CategoryID)
					}
				}
			}()
		}
		wg.Wait()
	})
}
