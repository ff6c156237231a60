package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topical-search/internal/crawler"
)

func TestFetcherFetchSuccess(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>electric</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "topicsearch-test", Timeout: time.Second})
	page, err := f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, srv.URL+"/article", page.URL)
	assert.Contains(t, string(page.Body), "electric")
	assert.Equal(t, "text/html", page.Headers.Get("Content-Type"))
	assert.Equal(t, "topicsearch-test", <-agents)

	// The same URL can be fetched again; the frontier owns deduplication.
	_, err = f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
}

func TestFetcherFetchStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrFetch)
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetcherFetchTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrFetch)
}

func TestFetcherFetchCanceled(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, "http://127.0.0.1:1/")
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrFetch)
}

func TestNewAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	assert.Equal(t, DefaultTimeout, f.cfg.Timeout)
	collector := f.buildCollector("https://example.com", time.Now(), &crawler.Page{}, new(error))
	assert.True(t, collector.AllowURLRevisit)
	assert.True(t, collector.IgnoreRobotsTxt)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result crawler.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com/a", time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/b")},
	})
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "https://example.com/a", result.URL)
	assert.Equal(t, "https://example.com/b", result.FinalURL)
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("Service Unavailable"))
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)

	hooks.onError(nil, errors.New("boom"))
	assert.ErrorIs(t, fetchErr, crawler.ErrFetch)
	assert.Contains(t, fetchErr.Error(), "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
