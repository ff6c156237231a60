// Package search ranks indexed documents against free-text queries using
// TF-IDF and serves the ranking behind a reloadable service.
package search

import (
	"math"
	"slices"

	"github.com/JakeFAU/topical-search/internal/index"
)

// Defaults for Config.
const (
	DefaultMaxResults = 50
	DefaultMinScore   = 1e-9
)

// Config bounds the result list.
type Config struct {
	// MaxResults caps the ranked list.
	MaxResults int
	// MinScore drops unmatched documents whose |raw score| falls below it.
	MinScore float64
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	return c
}

// Result is one ranked document. Score is the raw TF-IDF sum rescaled to
// 0..100 relative to the top result.
type Result struct {
	DocID    int64   `json:"doc_id"`
	URL      string  `json:"url"`
	Score    int     `json:"score"`
	RawScore float64 `json:"raw_score"`
}

// Engine ranks documents of a single index snapshot.
type Engine struct {
	idx *index.Index
	cfg Config
}

// NewEngine binds an engine to idx.
func NewEngine(idx *index.Index, cfg Config) *Engine {
	if idx == nil {
		idx = index.Build(nil)
	}
	return &Engine{idx: idx, cfg: cfg.withDefaults()}
}

// Index returns the snapshot the engine ranks against.
func (e *Engine) Index() *index.Index {
	return e.idx
}

// IDF is ln(N / (1 + df)). It is ln(N) for unseen terms and negative for
// terms present in every document.
func (e *Engine) IDF(term string) float64 {
	n := e.idx.Len()
	if n == 0 {
		return 0
	}
	return math.Log(float64(n) / float64(1+e.idx.DocumentFrequency(term)))
}

// TF is count(term)/len(tokens), zero for a document without tokens.
func TF(doc index.Document, term string) float64 {
	if len(doc.Tokens) == 0 {
		return 0
	}
	return float64(doc.Counts[term]) / float64(len(doc.Tokens))
}

// Search tokenizes query like the indexer and scores every document in the
// snapshot. Results are ordered by score descending, then doc id ascending.
func (e *Engine) Search(query string) []Result {
	terms := distinct(index.Tokenize(query))
	if len(terms) == 0 || e.idx.Len() == 0 {
		return []Result{}
	}
	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = e.IDF(term)
	}

	results := make([]Result, 0)
	for _, doc := range e.idx.Documents() {
		score, matched := 0.0, false
		for i, term := range terms {
			if doc.Counts[term] > 0 {
				matched = true
			}
			score += TF(doc, term) * idf[i]
		}
		if !matched && math.Abs(score) < e.cfg.MinScore {
			continue
		}
		results = append(results, Result{DocID: doc.ID, URL: doc.URL, RawScore: score})
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.RawScore > b.RawScore:
			return -1
		case a.RawScore < b.RawScore:
			return 1
		case a.DocID < b.DocID:
			return -1
		case a.DocID > b.DocID:
			return 1
		}
		return 0
	})
	if len(results) > e.cfg.MaxResults {
		results = results[:e.cfg.MaxResults]
	}
	rescale(results)
	return results
}

// rescale maps raw scores onto 0..100 so the first (top) result is 100.
func rescale(results []Result) {
	if len(results) == 0 {
		return
	}
	top := results[0].RawScore
	for i := range results {
		s := results[i].RawScore
		var pct float64
		switch {
		case top > 0:
			pct = 100 * s / top
		case top < 0:
			pct = 100 * top / s
		default:
			pct = 100
		}
		results[i].Score = clamp(int(math.Round(pct)), 0, 100)
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
