package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidoxa/newsdesk/internal/model"
)

const sampleResponse = `{
  "left": {"summary": "Left sees progress.", "sentiment": 0.6,
    "posts": [{"account": "@leftacct", "text": "finally!", "url": "https://x.com/leftacct/status/111", "likes": 10}]},
  "center": {"summary": "Center is measured.", "sentiment": 0.0, "posts": []},
  "right": {"summary": "Right objects.", "sentiment": -0.7,
    "posts": [{"account": "rightacct", "text": "bad idea", "url": "https://x.com/rightacct/status/222", "verified": true}]},
  "neutral_summary": "A bill was signed."
}`

func TestParseResult(t *testing.T) {
	result, err := parseResult(sampleResponse)
	require.NoError(t, err)
	assert.Equal(t, "A bill was signed.", result.NeutralSummary)
	require.Len(t, result.Perspectives, 3)

	left := result.Perspectives[0]
	assert.Equal(t, model.LeanLeft, left.Lean)
	assert.Equal(t, 0.6, left.Sentiment)
	require.Len(t, left.Evidence, 1)
	assert.Equal(t, "x", left.Evidence[0].Platform)
	assert.Equal(t, "111", left.Evidence[0].PlatformID)
	assert.Equal(t, "leftacct", left.Evidence[0].Author) // @ stripped
	assert.Equal(t, 10, left.Evidence[0].Likes)

	right := result.Perspectives[2]
	assert.Equal(t, "222", right.Evidence[0].PlatformID)
	assert.True(t, right.Evidence[0].Verified)
}

func TestParseResultWithCodeFences(t *testing.T) {
	fenced := "```json\n" + sampleResponse + "\n```"
	result, err := parseResult(fenced)
	require.NoError(t, err)
	assert.Equal(t, "A bill was signed.", result.NeutralSummary)
}

func TestParseResultClampsSentiment(t *testing.T) {
	result, err := parseResult(`{
		"left": {"summary": "a", "sentiment": 3.5, "posts": []},
		"center": {"summary": "b", "sentiment": 0, "posts": []},
		"right": {"summary": "c", "sentiment": -9, "posts": []},
		"neutral_summary": "d"
	}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Perspectives[0].Sentiment)
	assert.Equal(t, -1.0, result.Perspectives[2].Sentiment)
}

func TestParseResultDropsInvalidPosts(t *testing.T) {
	result, err := parseResult(`{
		"left": {"summary": "a", "sentiment": 0, "posts": [
			{"account": "x", "text": "", "url": "https://x.com/x/status/1"},
			{"account": "y", "text": "no url", "url": ""},
			{"account": "z", "text": "ok", "url": "https://x.com/z/status/3"}
		]},
		"center": {"summary": "b", "sentiment": 0, "posts": []},
		"right": {"summary": "c", "sentiment": 0, "posts": []},
		"neutral_summary": "d"
	}`)
	require.NoError(t, err)
	require.Len(t, result.Perspectives[0].Evidence, 1)
	assert.Equal(t, "3", result.Perspectives[0].Evidence[0].PlatformID)
}

func TestParseResultRejectsGarbage(t *testing.T) {
	_, err := parseResult("the model rambled instead of returning JSON")
	assert.Error(t, err)
}

func TestPostID(t *testing.T) {
	assert.Equal(t, "12345", postID("https://x.com/user/status/12345"))
	assert.Equal(t, "12345", postID("https://x.com/user/status/12345/"))
	assert.Empty(t, postID("https://x.com"))
	assert.Empty(t, postID("://bad"))
}

func TestBuildPrompt(t *testing.T) {
	item := model.StagedItem{
		Title:       "Fed raises rates",
		Description: "Quarter point hike",
		Category:    "business",
		PublishedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	withSearch := buildPrompt(item, 4, true)
	assert.Contains(t, withSearch, "Fed raises rates")
	assert.Contains(t, withSearch, "Quarter point hike")
	assert.Contains(t, withSearch, "up to 4 real posts")
	assert.Contains(t, withSearch, "neutral_summary")

	noSearch := buildPrompt(item, 4, false)
	assert.Contains(t, noSearch, "an empty array")
	assert.NotContains(t, noSearch, "real posts")
}

func TestFallbackResult(t *testing.T) {
	item := model.StagedItem{Title: "t", Description: "original description"}
	result := FallbackResult(item)

	assert.Equal(t, "original description", result.NeutralSummary)
	require.NoError(t, result.Validate())
	for _, p := range result.Perspectives {
		assert.Zero(t, p.Sentiment)
		assert.Empty(t, p.Evidence)
	}
}
