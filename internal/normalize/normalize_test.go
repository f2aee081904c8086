package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL_StripsTrackingParams(t *testing.T) {
	got, err := CanonicalURL("https://Example.com/news/story?utm_source=x&utm_medium=social&id=42")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/news/story?id=42", got)
}

func TestCanonicalURL_TrailingSlash(t *testing.T) {
	a, err := CanonicalURL("https://example.com/news/story/")
	require.NoError(t, err)
	b, err := CanonicalURL("https://example.com/news/story")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalURL_SortsQueryParams(t *testing.T) {
	a, err := CanonicalURL("https://example.com/a?b=2&a=1")
	require.NoError(t, err)
	b, err := CanonicalURL("https://example.com/a?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "https://example.com/a?a=1&b=2", a)
}

func TestCanonicalURL_DropsFragment(t *testing.T) {
	got, err := CanonicalURL("https://example.com/a#section-3")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got)
}

func TestCanonicalURL_LowercasesSchemeAndHost(t *testing.T) {
	got, err := CanonicalURL("HTTPS://WWW.Example.COM/News")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/News", got)
}

func TestCanonicalURL_NoHost(t *testing.T) {
	_, err := CanonicalURL("/relative/path")
	assert.Error(t, err)
}

func TestCanonicalURL_Garbage(t *testing.T) {
	_, err := CanonicalURL("ht tp://bad url%%%")
	assert.Error(t, err)
}

func TestTitle_Normalization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Breaking: Fed Raises Rates!", "breaking fed raises rates"},
		{"  Multiple   spaces\tand tabs ", "multiple spaces and tabs"},
		{"Quotes “like” these", "quotes like these"},
		{"CASE insensitive", "case insensitive"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Title(tt.in), "input %q", tt.in)
	}
}

func TestTitleTokens(t *testing.T) {
	tokens := TitleTokens("Fed Raises Rates, Fed Signals More")
	assert.True(t, tokens["fed"])
	assert.True(t, tokens["raises"])
	assert.True(t, tokens["signals"])
	assert.Len(t, tokens, 5) // fed, raises, rates, signals, more
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Fed Raises Rates", "The central bank moved today.")
	b := Fingerprint("Fed Raises Rates", "The central bank moved today.")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_IgnoresCaseAndPunctuation(t *testing.T) {
	a := Fingerprint("Fed Raises Rates!", "The central bank moved.")
	b := Fingerprint("fed raises rates", "the central bank moved")
	assert.Equal(t, a, b)
}

func TestFingerprint_DistinctContent(t *testing.T) {
	a := Fingerprint("Fed Raises Rates", "desc one")
	b := Fingerprint("Fed Raises Rates", "desc two")
	assert.NotEqual(t, a, b)

	// Title/description boundary matters: swapping text across the separator
	// must not collide.
	c := Fingerprint("ab", "c")
	d := Fingerprint("a", "bc")
	assert.NotEqual(t, c, d)
}
