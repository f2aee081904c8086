package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// preparePromotion stages n selected, analyzed items with complete jobs.
func preparePromotion(t *testing.T, st store.Store, runID string, n int) []model.StagedItem {
	t.Helper()
	ctx := context.Background()
	items := seedSelectedItems(t, st, runID, n)

	var jobs []model.AnalysisJob
	for _, it := range items {
		jobs = append(jobs, model.AnalysisJob{
			RunID: runID, ItemID: it.ID, Kind: model.AnalysisJobKindSentiment, Status: model.JobStatusPending,
		})
	}
	require.NoError(t, st.CreateAnalysisJobs(ctx, jobs))

	for i, it := range items {
		require.NoError(t, st.InsertStagedAnalysis(ctx, it.ID, "neutral for "+it.Title, []model.StagedPerspective{
			{Lean: model.LeanLeft, Summary: "left", Sentiment: -0.2},
			{Lean: model.LeanCenter, Summary: "center", Sentiment: 0},
			{Lean: model.LeanRight, Summary: "right", Sentiment: 0.2,
				Evidence: []model.EvidencePost{{Platform: "x", PlatformID: it.ID + "-post", Author: "acct", Text: "post text"}}},
		}))
		require.NoError(t, st.MarkJobRunning(ctx, jobs[i].ID))
		require.NoError(t, st.MarkJobComplete(ctx, jobs[i].ID))
	}
	return items
}

func TestPromoteHappyPath(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	items := preparePromotion(t, st, run.ID, 2)

	result, err := NewPromoter(st).Promote(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2, result.Promoted.Items)
	assert.Equal(t, 6, result.Promoted.Perspectives)
	assert.Equal(t, 2, result.Promoted.Evidence)

	for _, it := range items {
		live, err := st.GetLiveItem(ctx, it.CanonicalURL)
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.Equal(t, "neutral for "+it.Title, live.NeutralSummary)
	}
}

func TestPromoteIdempotent(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	items := preparePromotion(t, st, run.ID, 2)

	p := NewPromoter(st)
	first, err := p.Promote(ctx, run.ID, nil)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := p.Promote(ctx, run.ID, nil)
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, first.Promoted, second.Promoted)

	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = it.CanonicalURL
	}
	n, err := st.CountLiveByURLs(ctx, urls)
	require.NoError(t, err)
	assert.Equal(t, len(items), n)
}

func TestPromoteNoSelectedItems(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)

	result, err := NewPromoter(st).Promote(context.Background(), run.ID, nil)
	require.NoError(t, err) // precondition failure, not a fault
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.Zero(t, result.Promoted.Items)
}

func TestPromoteTerminalRun(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusFailed, "earlier failure"))

	result, err := NewPromoter(st).Promote(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "not active")
}

func TestPromoteOpenJobsBlock(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	items := seedSelectedItems(t, st, run.ID, 1)

	require.NoError(t, st.CreateAnalysisJobs(ctx, []model.AnalysisJob{
		{RunID: run.ID, ItemID: items[0].ID, Kind: model.AnalysisJobKindSentiment, Status: model.JobStatusPending},
	}))

	result, err := NewPromoter(st).Promote(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "still open")

	// Nothing written.
	live, err := st.GetLiveItem(ctx, items[0].CanonicalURL)
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestPromoteCategorySubset(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// One selected item in each of two categories, both fully analyzed.
	politics := seedItem(run.ID, "politics", "politics story", "d", "https://example.com/pol", now)
	politics.Status = model.ItemStatusSelected
	business := seedItem(run.ID, "business", "business story", "d", "https://example.com/biz", now)
	business.Status = model.ItemStatusSelected
	items := []model.StagedItem{politics, business}
	insertItems(t, st, items)

	for _, it := range items {
		require.NoError(t, st.InsertStagedAnalysis(ctx, it.ID, "neutral", []model.StagedPerspective{
			{Lean: model.LeanLeft, Summary: "l"}, {Lean: model.LeanCenter, Summary: "c"}, {Lean: model.LeanRight, Summary: "r"},
		}))
	}

	result, err := NewPromoter(st).Promote(ctx, run.ID, []string{"business"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Promoted.Items)

	live, err := st.GetLiveItem(ctx, "https://example.com/biz")
	require.NoError(t, err)
	assert.NotNil(t, live)
	live, err = st.GetLiveItem(ctx, "https://example.com/pol")
	require.NoError(t, err)
	assert.Nil(t, live)
}
