package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/News/", "https://example.com/news"},
		{"https://example.com/a#comments", "https://example.com/a"},
		{"https://example.com/", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{"https://example.com/a//", "https://example.com/a"},
		{"https://example.com/a?Page=2", "https://example.com/a?page=2"},
	}
	for _, tc := range tests {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	once, err := NormalizeURL("https://EV.example.com/Batteries/#top")
	require.NoError(t, err)
	twice, err := NormalizeURL(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/news/today")
	require.NoError(t, err)

	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"/cars", "https://example.com/cars", true},
		{"battery", "https://example.com/news/battery", true},
		{"https://other.com/x#frag", "https://other.com/x", true},
		{"//cdn.example.com/a", "https://cdn.example.com/a", true},
		{"", "", false},
		{"#section", "", false},
		{"javascript:void(0)", "", false},
		{"JavaScript:alert(1)", "", false},
		{"mailto:editor@example.com", "", false},
		{"tel:+15551234", "", false},
		{"ftp://example.com/file", "", false},
	}
	for _, tc := range tests {
		got, ok := ResolveLink(base, tc.href)
		assert.Equal(t, tc.ok, ok, tc.href)
		assert.Equal(t, tc.want, got, tc.href)
	}
}

func TestNewSeed(t *testing.T) {
	t.Parallel()

	seed, err := NewSeed("https://Electrek.co/guides", "")
	require.NoError(t, err)
	assert.Equal(t, "electrek.co", seed.AllowedDomain)

	seed, err = NewSeed("https://www.insideevs.com/", "InsideEVs.com")
	require.NoError(t, err)
	assert.Equal(t, "insideevs.com", seed.AllowedDomain)

	_, err = NewSeed("ftp://example.com", "")
	require.Error(t, err)
	_, err = NewSeed("/relative", "")
	require.Error(t, err)
}

func TestAdmissionAdmit(t *testing.T) {
	t.Parallel()

	adm := NewAdmission("electrek.co", []string{"utm_", "/tag/", ".PDF"}, []string{"*.facebook.com"})
	tests := []struct {
		url  string
		want bool
	}{
		{"https://electrek.co/2024/01/ev-batteries", true},
		{"https://electrek.co/tag/tesla", false},
		{"https://electrek.co/a?utm_source=x", false},
		{"https://electrek.co/report.pdf", false},
		{"https://example.com/electrek", false},
		{"https://www.facebook.com/sharer?u=electrek.co", false},
		{"mailto:tips@electrek.co", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, adm.Admit(tc.url), tc.url)
	}
}
