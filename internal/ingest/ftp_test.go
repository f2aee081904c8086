package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const politicsDump = `{"title":"Senate passes budget","description":"The vote was close","url":"https://example.com/a","source":"AP","category":"politics"}
{"title":"Election results certified","description":"All districts reporting","url":"https://example.com/b","source":"Reuters","category":"politics"}
not json at all
{"title":"","description":"missing title","url":"https://example.com/c","source":"AP"}
{"title":"Governor signs trade bill","description":"Takes effect in June","url":"https://example.com/d","source":"AFP","category":"politics"}
`

func TestScanDumpUnlimited(t *testing.T) {
	// Limit zero means the whole file; only the malformed lines are skipped.
	candidates, skipped, err := scanDump(strings.NewReader(politicsDump), PullRequest{Category: "politics"})
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "Senate passes budget", candidates[0].Title)
	assert.Equal(t, "https://example.com/d", candidates[2].URL)
}

func TestScanDumpLimit(t *testing.T) {
	candidates, _, err := scanDump(strings.NewReader(politicsDump), PullRequest{Category: "politics", Limit: 2})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "https://example.com/b", candidates[1].URL)
}

func TestScanDumpKeyword(t *testing.T) {
	candidates, skipped, err := scanDump(strings.NewReader(politicsDump), PullRequest{Keyword: "election"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Election results certified", candidates[0].Title)
	// Keyword misses are filtered, not counted as skips.
	assert.Equal(t, 2, skipped)
}

func TestScanDumpEmpty(t *testing.T) {
	candidates, skipped, err := scanDump(strings.NewReader(""), PullRequest{Category: "politics"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, skipped)
}
