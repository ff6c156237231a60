// Package extract implements the content filter: it strips boilerplate from
// raw markup, picks the primary content region, applies the keyword and
// length gates, rejects duplicate content by digest, and harvests outbound
// links whether or not the page is accepted.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/topical-search/internal/crawler"
)

// DefaultStripSelectors removes elements that never carry article text.
var DefaultStripSelectors = []string{
	"script", "style", "noscript", "nav", "header", "footer", "aside", "form", "iframe", "svg",
}

// DefaultContentPattern matches id/class values of likely content containers.
const DefaultContentPattern = "content|article|body"

// semanticRegions are tried before the id/class pattern.
const semanticRegions = "article, main, [role=main]"

// HashLog reserves content digests; claimed=false means the digest is known.
// Accepted extractions carry their Digest so the caller can commit or release
// the claim once the document is stored.
type HashLog interface {
	ClaimHash(digest string) (claimed bool, err error)
}

// Digester computes the digest of extracted text.
type Digester interface {
	Digest(text string) string
}

// Config tunes the relevance gates and region selection.
type Config struct {
	Keywords            []string
	MinKeywordHits      int
	MinWords            int
	ContentPattern      string
	StripSelectors      []string
	ReadabilityFallback bool
}

// Filter implements crawler.Extractor.
type Filter struct {
	cfg      Config
	keywords []string
	strip    string
	pattern  *regexp.Regexp
	hashes   HashLog
	digester Digester
	logger   *zap.Logger
}

// New compiles cfg. hashes may be nil, which disables duplicate detection.
func New(cfg Config, hashes HashLog, digester Digester, logger *zap.Logger) (*Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hashes != nil && digester == nil {
		return nil, fmt.Errorf("extract: a digester is required with a hash log")
	}
	if cfg.MinKeywordHits < 0 || cfg.MinWords < 0 {
		return nil, fmt.Errorf("extract: thresholds must be >= 0")
	}
	pattern := cfg.ContentPattern
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultContentPattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile content pattern: %w", err)
	}
	strip := cfg.StripSelectors
	if len(strip) == 0 {
		strip = DefaultStripSelectors
	}
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Filter{
		cfg:      cfg,
		keywords: keywords,
		strip:    strings.Join(strip, ", "),
		pattern:  re,
		hashes:   hashes,
		digester: digester,
		logger:   logger,
	}, nil
}

// Extract runs the filter over raw markup fetched from pageURL. Rejections are
// reported in the Extraction; the error is reserved for hash log failures.
func (f *Filter) Extract(_ context.Context, raw []byte, pageURL string) (crawler.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		f.logger.Debug("unparsable markup", zap.String("url", pageURL), zap.Error(err))
		return crawler.Extraction{Reason: crawler.RejectUnparsable}, nil
	}
	base, _ := url.Parse(pageURL)
	result := crawler.Extraction{Links: HarvestLinks(doc, base)}

	doc.Find(f.strip).Remove()

	text := f.primaryText(doc, raw, base)

	if hits := f.keywordHits(raw); len(f.keywords) > 0 && hits < f.cfg.MinKeywordHits {
		result.Reason = crawler.RejectOffTopic
		return result, nil
	}
	words := len(strings.Fields(text))
	if words == 0 {
		result.Reason = crawler.RejectEmptyResult
		return result, nil
	}
	if words < f.cfg.MinWords {
		result.Reason = crawler.RejectTooShort
		return result, nil
	}

	if f.hashes != nil {
		digest := f.digester.Digest(text)
		claimed, err := f.hashes.ClaimHash(digest)
		if err != nil {
			return result, fmt.Errorf("claim content hash: %w", err)
		}
		result.Digest = digest
		if !claimed {
			result.Reason = crawler.RejectDuplicate
			return result, nil
		}
	}

	result.Text = text
	result.Accepted = true
	return result, nil
}

// keywordHits counts keyword occurrences in the lowercased raw markup. Only
// whole-word matches count: "car" matches "car" and "car-sharing" but not
// "card" or "scarf". Attribute values and link targets are part of the markup
// and are counted too.
func (f *Filter) keywordHits(raw []byte) int {
	if len(f.keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(string(raw))
	hits := 0
	for _, kw := range f.keywords {
		hits += countWord(lower, kw)
	}
	return hits
}

func countWord(s, word string) int {
	n := 0
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], word)
		if j < 0 {
			break
		}
		start, end := i+j, i+j+len(word)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !isWordRune(before) && !isWordRune(after) {
			n++
			i = end
			continue
		}
		i = start + 1
	}
	return n
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// primaryText prefers semantic regions, then id/class pattern matches, then
// readability (when enabled), then the whole page.
func (f *Filter) primaryText(doc *goquery.Document, raw []byte, base *url.URL) string {
	if text := longestText(doc.Find(semanticRegions)); text != "" {
		return text
	}
	matches := doc.Find("[id], [class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		return f.pattern.MatchString(id) || f.pattern.MatchString(class)
	})
	if text := longestText(matches); text != "" {
		return text
	}
	if f.cfg.ReadabilityFallback {
		if text := readableText(raw, base); text != "" {
			return text
		}
	}
	return Text(doc.Selection)
}

func readableText(raw []byte, base *url.URL) string {
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(raw), base)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return ""
	}
	return Text(doc.Selection)
}

func longestText(sel *goquery.Selection) string {
	best := ""
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := Text(s); len(text) > len(best) {
			best = text
		}
	})
	return best
}

// Text returns the selection's text nodes joined by single spaces.
func Text(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// HarvestLinks resolves every a[href] against the document's <base> (or base)
// and returns the distinct absolute http(s) URLs in document order.
func HarvestLinks(doc *goquery.Document, base *url.URL) []string {
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && base != nil {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := crawler.ResolveLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
