// Package index tokenizes documents and builds the inverted index used by
// search. Postings record presence only: a document appears at most once per
// term regardless of how often the term occurs in it.
package index

import (
	"slices"
	"strings"

	"github.com/JakeFAU/topical-search/internal/storage"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "this": {}, "that": {}, "it": {},
}

// IsStopWord reports whether the lowercase token is excluded from indexing.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Tokenize lowercases text and returns its maximal runs of ASCII letters,
// minus stop words. Digits, punctuation, and non-ASCII runes separate tokens.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if tok := lower[start:end]; !IsStopWord(tok) {
			tokens = append(tokens, tok)
		}
		start = -1
	}
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'z' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(lower))
	return tokens
}

// Document is the tokenized form of a stored record.
type Document struct {
	ID     int64
	URL    string
	Tokens []string
	// Counts holds per-term occurrence counts for term-frequency lookups.
	Counts map[string]int
}

// Index is an immutable inverted index over a fixed corpus snapshot.
type Index struct {
	docs     []Document
	byID     map[int64]int
	postings map[string][]int64
}

// Build tokenizes records and indexes every distinct term of each document.
// Records with duplicate ids keep the first occurrence.
func Build(records []storage.Record) *Index {
	idx := &Index{
		docs:     make([]Document, 0, len(records)),
		byID:     make(map[int64]int, len(records)),
		postings: make(map[string][]int64),
	}
	for _, rec := range records {
		if _, dup := idx.byID[rec.ID]; dup {
			continue
		}
		tokens := Tokenize(rec.Text)
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		for term := range counts {
			idx.postings[term] = append(idx.postings[term], rec.ID)
		}
		idx.byID[rec.ID] = len(idx.docs)
		idx.docs = append(idx.docs, Document{ID: rec.ID, URL: rec.URL, Tokens: tokens, Counts: counts})
	}
	for term := range idx.postings {
		slices.Sort(idx.postings[term])
	}
	return idx
}

// Postings returns the ids of documents containing term, ascending.
func (i *Index) Postings(term string) []int64 {
	return slices.Clone(i.postings[term])
}

// DocumentFrequency returns the number of documents containing term.
func (i *Index) DocumentFrequency(term string) int {
	return len(i.postings[term])
}

// Documents returns the indexed documents in build order.
func (i *Index) Documents() []Document {
	return i.docs
}

// Document looks up one indexed document by id.
func (i *Index) Document(id int64) (Document, bool) {
	pos, ok := i.byID[id]
	if !ok {
		return Document{}, false
	}
	return i.docs[pos], true
}

// Len returns the number of indexed documents.
func (i *Index) Len() int {
	return len(i.docs)
}

// Terms returns the number of distinct indexed terms.
func (i *Index) Terms() int {
	return len(i.postings)
}

// TermStat is one row of TopTerms.
type TermStat struct {
	Term      string `json:"term"`
	Documents int    `json:"documents"`
}

// TopTerms returns the n terms with the longest posting lists, ties broken
// alphabetically.
func (i *Index) TopTerms(n int) []TermStat {
	stats := make([]TermStat, 0, len(i.postings))
	for term, ids := range i.postings {
		stats = append(stats, TermStat{Term: term, Documents: len(ids)})
	}
	slices.SortFunc(stats, func(a, b TermStat) int {
		if a.Documents != b.Documents {
			return b.Documents - a.Documents
		}
		return strings.Compare(a.Term, b.Term)
	})
	if n >= 0 && n < len(stats) {
		stats = stats[:n]
	}
	return stats
}
