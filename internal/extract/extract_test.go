package extract

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/hash/sha256"
)

type memHashes struct {
	mu   sync.Mutex
	seen map[string]struct{}
	err  error
}

func newMemHashes() *memHashes {
	return &memHashes{seen: make(map[string]struct{})}
}

func (m *memHashes) ClaimHash(digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.seen[digest]; ok {
		return false, nil
	}
	m.seen[digest] = struct{}{}
	return true, nil
}

const articlePage = `<html><head><title>Ocean heat</title><script>var tracker = "ignored";</script></head>
<body>
<nav><a href="/about">About</a> <a href="mailto:x@example.com">Mail</a></nav>
<article>
<p>Climate models show the ocean is warming.</p><p>Sea levels keep rising.</p>
<a href="/next#section">Next</a> <a href="/next">Again</a> <a href="#top">Top</a>
</article>
<footer>Copyright footer text</footer>
</body></html>`

func newFilter(t *testing.T, cfg Config, hashes HashLog) *Filter {
	t.Helper()
	f, err := New(cfg, hashes, sha256.New(), nil)
	require.NoError(t, err)
	return f
}

func TestExtractAcceptsArticleAndHarvestsLinks(t *testing.T) {
	t.Parallel()

	hashes := newMemHashes()
	f := newFilter(t, Config{Keywords: []string{"Climate"}, MinKeywordHits: 1, MinWords: 5}, hashes)

	got, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/news/item")
	require.NoError(t, err)

	assert.True(t, got.Accepted)
	assert.Equal(t, crawler.RejectNone, got.Reason)
	assert.Equal(t, "Climate models show the ocean is warming. Sea levels keep rising. Next Again Top", got.Text)
	assert.NotContains(t, got.Text, "footer")
	assert.Equal(t, sha256.New().Digest(got.Text), got.Digest)
	assert.Equal(t, []string{"https://example.com/about", "https://example.com/next"}, got.Links)
	assert.Len(t, hashes.seen, 1)
}

func TestExtractRejectsOffTopicButKeepsLinks(t *testing.T) {
	t.Parallel()

	f := newFilter(t, Config{Keywords: []string{"volcano"}, MinKeywordHits: 1}, newMemHashes())

	got, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/")
	require.NoError(t, err)

	assert.False(t, got.Accepted)
	assert.Equal(t, crawler.RejectOffTopic, got.Reason)
	assert.Empty(t, got.Text)
	assert.Len(t, got.Links, 2)
}

func TestExtractCountsKeywordsInRawMarkup(t *testing.T) {
	t.Parallel()

	page := `<html><head><meta name="keywords" content="solar solar"></head><body><main>plain words only here</main></body></html>`
	f := newFilter(t, Config{Keywords: []string{"solar"}, MinKeywordHits: 2}, newMemHashes())

	got, err := f.Extract(context.Background(), []byte(page), "https://example.com/")
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	assert.Equal(t, "plain words only here", got.Text)

	strict := newFilter(t, Config{Keywords: []string{"solar"}, MinKeywordHits: 3}, newMemHashes())
	got, err = strict.Extract(context.Background(), []byte(page), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, crawler.RejectOffTopic, got.Reason)
}

func TestExtractCountsWholeWordKeywordsOnly(t *testing.T) {
	t.Parallel()

	page := `<html><body><main class="carousel">A card and a scarf fit in the car. Car-sharing helps.</main></body></html>`
	f := newFilter(t, Config{Keywords: []string{"car"}, MinKeywordHits: 2}, newMemHashes())

	got, err := f.Extract(context.Background(), []byte(page), "https://example.com/")
	require.NoError(t, err)
	assert.True(t, got.Accepted)

	strict := newFilter(t, Config{Keywords: []string{"car"}, MinKeywordHits: 3}, newMemHashes())
	got, err = strict.Extract(context.Background(), []byte(page), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, crawler.RejectOffTopic, got.Reason)

	assert.Equal(t, 2, countWord("electric car, electric-bus, electrical", "electric"))
	assert.Zero(t, countWord("", "car"))
}

func TestExtractWithoutKeywordsDisablesTopicGate(t *testing.T) {
	t.Parallel()

	f := newFilter(t, Config{MinKeywordHits: 5}, newMemHashes())
	got, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/")
	require.NoError(t, err)
	assert.True(t, got.Accepted)
}

func TestExtractRejectsShortPages(t *testing.T) {
	t.Parallel()

	f := newFilter(t, Config{MinWords: 50}, newMemHashes())
	got, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, crawler.RejectTooShort, got.Reason)
	assert.False(t, got.Accepted)
}

func TestExtractRejectsEmptyText(t *testing.T) {
	t.Parallel()

	f := newFilter(t, Config{}, newMemHashes())
	got, err := f.Extract(context.Background(), []byte(`<html><body><script>x()</script></body></html>`), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, crawler.RejectEmptyResult, got.Reason)
}

func TestExtractRejectsDuplicateContent(t *testing.T) {
	t.Parallel()

	f := newFilter(t, Config{}, newMemHashes())
	first, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/a")
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/b")
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, crawler.RejectDuplicate, second.Reason)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Len(t, second.Links, 2, "links are harvested from duplicates too")
}

func TestExtractPropagatesHashLogFailure(t *testing.T) {
	t.Parallel()

	hashes := newMemHashes()
	hashes.err = errors.New("disk full")
	f := newFilter(t, Config{}, hashes)

	got, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/")
	require.Error(t, err)
	assert.ErrorIs(t, err, hashes.err)
	assert.False(t, got.Accepted)
}

func TestExtractWithoutHashLogSkipsDuplicateCheck(t *testing.T) {
	t.Parallel()

	f, err := New(Config{}, nil, nil, nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		got, err := f.Extract(context.Background(), []byte(articlePage), "https://example.com/")
		require.NoError(t, err)
		assert.True(t, got.Accepted)
		assert.Empty(t, got.Digest)
	}
}

func TestExtractUsesContentPatternRegion(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div class="sidebar">Related links and adverts</div>
<div class="post-Content"><p>The main story lives here.</p><div class="content-inner">short</div></div>
</body></html>`
	f := newFilter(t, Config{}, newMemHashes())

	got, err := f.Extract(context.Background(), []byte(page), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "The main story lives here. short", got.Text)
}

func TestExtractFallsBackToWholePage(t *testing.T) {
	t.Parallel()

	page := `<html><body><div id="x"><p>First</p><p>Second</p></div><span>Third</span></body></html>`
	f := newFilter(t, Config{}, newMemHashes())

	got, err := f.Extract(context.Background(), []byte(page), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "First Second Third", got.Text)
}

func TestExtractReadabilityFallback(t *testing.T) {
	t.Parallel()

	paragraph := "Researchers measured glacier retreat across the northern range, and the data shows a steady decline over decades. "
	page := `<html><head><title>Glaciers</title></head><body><div id="x">` +
		"<p>" + strings.Repeat(paragraph, 4) + "</p><p>" + strings.Repeat(paragraph, 3) + "</p>" +
		`</div></body></html>`
	f := newFilter(t, Config{ReadabilityFallback: true}, newMemHashes())

	got, err := f.Extract(context.Background(), []byte(page), "https://example.com/glaciers")
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	assert.Contains(t, got.Text, "Researchers measured glacier retreat")
}

func TestHarvestLinksHonorsBaseElement(t *testing.T) {
	t.Parallel()

	page := `<html><head><base href="https://cdn.example.org/docs/"></head><body>
<a href="guide.html">Guide</a><a href="javascript:void(0)">JS</a><a href="ftp://example.com/file">FTP</a><a href="https://other.example/">Other</a>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	base, err := url.Parse("https://example.com/index.html")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn.example.org/docs/guide.html", "https://other.example/"}, HarvestLinks(doc, base))
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ContentPattern: "("}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{MinWords: -1}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{}, newMemHashes(), nil, nil)
	assert.Error(t, err)
}
