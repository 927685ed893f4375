package index

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/granabot/grana/internal/model"
)

// Options tunes the scoring policies. Zero values fall back to defaults.
type Options struct {
	// SubSynonymWeight down-weights synonym matches against subcategory
	// names; subcategory synonym sets are noisier than category ones.
	SubSynonymWeight float64
	// ExactMatchScore is the floor applied when the whole query equals a
	// category or subcategory name. Must stay above 0.9 so unambiguous input
	// is never second-guessed by partial-term arithmetic.
	ExactMatchScore float64
	// FuzzyMaxDistance is the edit distance tolerated between a query token
	// and an entry token before they stop counting as the same word.
	FuzzyMaxDistance int
}

func (o Options) withDefaults() Options {
	if o.SubSynonymWeight == 0 {
		o.SubSynonymWeight = 0.8
	}
	if o.ExactMatchScore == 0 {
		o.ExactMatchScore = 0.95
	}
	if o.FuzzyMaxDistance == 0 {
		o.FuzzyMaxDistance = 1
	}
	return o
}

// QueryOptions filters one query.
type QueryOptions struct {
	MinScore        float64
	MaxResults      int
	TransactionType model.TransactionType // empty means no type filter
}

// token is one indexed word of an entry, tagged with where it came from.
type token struct {
	text    string
	fromSub bool
}

type indexedEntry struct {
	entry   model.CategoryEntry
	catNorm string
	subNorm string
	tokens  []token
}

// tenantIndex is an immutable snapshot of one tenant's entries. Replace
// builds a fresh one and swaps it in, so queries racing a re-index see either
// the old or the new index, never a torn one.
type tenantIndex struct {
	entries []indexedEntry
	idf     map[string]float64
}

// Index is the per-tenant retrieval index. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	tenants  map[string]*tenantIndex
	synonyms *SynonymTable
	opts     Options
	logger   *slog.Logger
}

// New creates an empty index using the given synonym table.
func New(synonyms *SynonymTable, opts Options, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		tenants:  make(map[string]*tenantIndex),
		synonyms: synonyms,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Replace rebuilds the tenant's index from entries, discarding whatever was
// there before.
func (ix *Index) Replace(tenantID string, entries []model.CategoryEntry) {
	ti := &tenantIndex{
		entries: make([]indexedEntry, 0, len(entries)),
		idf:     make(map[string]float64),
	}

	df := make(map[string]int)
	for _, entry := range entries {
		ie := indexedEntry{
			entry:   entry,
			catNorm: Fold(entry.CategoryName),
			subNorm: Fold(entry.SubCategoryName),
		}

		seen := make(map[string]bool)
		for _, t := range Tokenize(entry.CategoryName) {
			if seen[t] {
				continue
			}
			seen[t] = true
			ie.tokens = append(ie.tokens, token{text: t})
		}
		for _, t := range Tokenize(entry.SubCategoryName) {
			if seen[t] {
				continue
			}
			seen[t] = true
			ie.tokens = append(ie.tokens, token{text: t, fromSub: true})
		}

		for t := range seen {
			df[t]++
		}
		ti.entries = append(ti.entries, ie)
	}

	n := float64(len(ti.entries))
	for t, d := range df {
		ti.idf[t] = math.Log(1 + (n-float64(d)+0.5)/(float64(d)+0.5))
	}

	ix.mu.Lock()
	ix.tenants[tenantID] = ti
	ix.mu.Unlock()

	ix.logger.Debug("tenant index replaced", "tenant_id", tenantID, "entries", len(entries))
}

// Purge drops one tenant's index, or every tenant's when tenantID is empty.
func (ix *Index) Purge(tenantID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if tenantID == "" {
		ix.tenants = make(map[string]*tenantIndex)
		return
	}
	delete(ix.tenants, tenantID)
}

// Query scores the tenant's entries against text and returns matches sorted
// by descending score, ties broken by insertion order. An unknown tenant or
// empty index yields an empty result, never an error.
func (ix *Index) Query(tenantID, text string, q QueryOptions) []model.RetrievalMatch {
	ix.mu.RLock()
	ti := ix.tenants[tenantID]
	ix.mu.RUnlock()

	if ti == nil || len(ti.entries) == 0 {
		return nil
	}

	queryNorm := Fold(text)
	queryTokens := Tokenize(text)

	type scored struct {
		match model.RetrievalMatch
		order int
	}
	var results []scored

	for i, ie := range ti.entries {
		// Type filter runs before scoring; no score mass is wasted on
		// entries that could never be chosen.
		if q.TransactionType != "" && ie.entry.TransactionType != "" && ie.entry.TransactionType != q.TransactionType {
			continue
		}

		score := ix.score(ti, ie, queryTokens)

		if queryNorm != "" && (queryNorm == ie.catNorm || (ie.subNorm != "" && queryNorm == ie.subNorm)) {
			score = math.Max(score, ix.opts.ExactMatchScore)
		}

		if score <= 0 || score < q.MinScore {
			continue
		}

		results = append(results, scored{
			order: i,
			match: model.RetrievalMatch{
				CategoryID:      ie.entry.CategoryID,
				CategoryName:    ie.entry.CategoryName,
				SubCategoryID:   ie.entry.SubCategoryID,
				SubCategoryName: ie.entry.SubCategoryName,
				Score:           score,
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].match.Score != results[j].match.Score {
			return results[i].match.Score > results[j].match.Score
		}
		return results[i].order < results[j].order
	})

	if q.MaxResults > 0 && len(results) > q.MaxResults {
		results = results[:q.MaxResults]
	}

	matches := make([]model.RetrievalMatch, len(results))
	for i, r := range results {
		matches[i] = r.match
	}
	return matches
}

// score computes the idf-weighted coverage of the entry's token mass by the
// query: each entry token contributes its idf scaled by the best match any
// query token achieves against it, over the entry's total idf mass. Names
// are the documents here, not the tenant's transaction history.
func (ix *Index) score(ti *tenantIndex, ie indexedEntry, queryTokens []string) float64 {
	if len(queryTokens) == 0 || len(ie.tokens) == 0 {
		return 0
	}

	var matched, total float64
	for _, et := range ie.tokens {
		weight := ti.idf[et.text]
		if weight == 0 {
			weight = 1
		}
		total += weight
		matched += weight * ix.tokenMatch(et, queryTokens)
	}

	if total == 0 {
		return 0
	}
	return matched / total
}

// tokenMatch returns the best weight any query token achieves against one
// entry token: 1.0 for a literal or near-miss match, full weight for a
// synonym of a category term, SubSynonymWeight for a synonym of a
// subcategory term.
func (ix *Index) tokenMatch(et token, queryTokens []string) float64 {
	var best float64
	for _, qt := range queryTokens {
		if qt == et.text {
			return 1
		}
		if ix.fuzzyEqual(qt, et.text) {
			return 1
		}
		for _, canonical := range ix.synonyms.Lookup(qt) {
			if canonical != et.text {
				continue
			}
			w := 1.0
			if et.fromSub {
				w = ix.opts.SubSynonymWeight
			}
			if w > best {
				best = w
			}
		}
	}
	return best
}

// fuzzyEqual treats longer tokens within a small edit distance as the same
// word, absorbing typos like "superrmercado".
func (ix *Index) fuzzyEqual(a, b string) bool {
	if len(a) < 5 || len(b) < 5 {
		return false
	}
	return levenshtein.ComputeDistance(a, b) <= ix.opts.FuzzyMaxDistance
}
