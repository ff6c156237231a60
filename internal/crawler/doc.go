// Package crawler implements the topical crawl pipeline: seed derivation, URL
// normalization and admission, the breadth-first frontier, and the engine that
// drives fetch, extract, persist, and enqueue across a bounded worker pool.
package crawler
