package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func newTestRun(t *testing.T, st *SQLiteStore, kind model.RunKind) *model.Run {
	t.Helper()
	run := &model.Run{
		Kind:    kind,
		Trigger: "test",
		Status:  model.RunStatusRunning,
		Config: model.RunConfig{
			FullRefresh: &model.FullRefreshConfig{Categories: []string{"politics"}, TargetPerCategory: 5},
		},
	}
	if kind == model.RunKindReanalyze {
		run.Config = model.RunConfig{Reanalyze: &model.ReanalyzeConfig{CanonicalURLs: []string{"https://example.com/a"}}}
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

func stagedItem(runID, category, title, url string, publishedAt time.Time) model.StagedItem {
	return model.StagedItem{
		RunID:           runID,
		Category:        category,
		Title:           title,
		Description:     "description for " + title,
		URL:             url,
		Source:          "Example Wire",
		NormalizedTitle: title,
		CanonicalURL:    url,
		Fingerprint:     "fp-" + url,
		PublishedAt:     publishedAt,
		Status:          model.ItemStatusStaged,
	}
}

// --- Runs ---

func TestSQLiteRunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := newTestRun(t, st, model.RunKindFullRefresh)
	require.NotEmpty(t, run.ID)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunKindFullRefresh, got.Kind)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	require.NotNil(t, got.Config.FullRefresh)
	assert.Equal(t, []string{"politics"}, got.Config.FullRefresh.Categories)

	require.NoError(t, st.UpdateRunStage(ctx, run.ID, model.RunStatusAnalyzing, model.StageAnalysis))
	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAnalyzing, got.Status)
	assert.Equal(t, model.StageAnalysis, got.Stage)

	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusComplete, ""))
	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestSQLiteFinishRunRejectsNonTerminal(t *testing.T) {
	st := newTestSQLiteStore(t)
	run := newTestRun(t, st, model.RunKindFullRefresh)

	err := st.FinishRun(context.Background(), run.ID, model.RunStatusAnalyzing, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "non-terminal")
}

func TestSQLiteFinishRunTerminalIsImmutable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run := newTestRun(t, st, model.RunKindFullRefresh)

	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusComplete, ""))

	// A finished run must never change status again.
	err := st.FinishRun(ctx, run.ID, model.RunStatusFailed, "overwritten")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already terminal")

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Empty(t, got.Error)
}

func TestSQLiteFinishRunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.FinishRun(context.Background(), "no-such-run", model.RunStatusFailed, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLiteGetRunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "no-such-run")
	assert.Error(t, err)
}

func TestSQLiteListRunsFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := newTestRun(t, st, model.RunKindFullRefresh)
	newTestRun(t, st, model.RunKindReanalyze)
	require.NoError(t, st.FinishRun(ctx, a.ID, model.RunStatusComplete, ""))

	complete, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, a.ID, complete[0].ID)

	reanalyze, err := st.ListRuns(ctx, RunFilter{Kind: model.RunKindReanalyze})
	require.NoError(t, err)
	require.Len(t, reanalyze, 1)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Lock ---

func TestSQLiteLockMutualExclusion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.TryAcquireLock(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Contention is a false, not an error.
	ok, err = st.TryAcquireLock(ctx, "run-2")
	require.NoError(t, err)
	assert.False(t, ok)

	lock, err := st.GetLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "run-1", lock.RunID)
}

func TestSQLiteReleaseLockOwnerScoped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.TryAcquireLock(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release is a no-op, not an error.
	require.NoError(t, st.ReleaseLock(ctx, "run-2"))
	lock, err := st.GetLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "run-1", lock.RunID)

	require.NoError(t, st.ReleaseLock(ctx, "run-1"))
	lock, err = st.GetLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestSQLiteForceReleaseLock(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.TryAcquireLock(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, st.ForceReleaseLock(ctx))

	ok, err = st.TryAcquireLock(ctx, "run-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Category progress ---

func TestSQLiteCategoryProgress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run := newTestRun(t, st, model.RunKindFullRefresh)

	require.NoError(t, st.InitCategoryProgress(ctx, run.ID, map[string]int{"politics": 10, "business": 5}))

	progress, err := st.ListCategoryProgress(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	// Ordered by category.
	assert.Equal(t, "business", progress[0].Category)
	assert.Equal(t, 5, progress[0].TargetCount)
	assert.Equal(t, model.CategoryStagePending, progress[0].Stage)

	require.NoError(t, st.UpdateCategoryProgress(ctx, run.ID, "politics", 7, model.CategoryStageReady))
	progress, err = st.ListCategoryProgress(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, progress[1].CurrentCount)
	assert.Equal(t, model.CategoryStageReady, progress[1].Stage)

	attempts, err := st.IncrementPullAttempts(ctx, run.ID, "politics")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	attempts, err = st.IncrementPullAttempts(ctx, run.ID, "politics")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	_, err = st.IncrementPullAttempts(ctx, run.ID, "missing")
	assert.Error(t, err)
}

// --- Staged items ---

func TestSQLiteStagedItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run := newTestRun(t, st, model.RunKindFullRefresh)
	now := time.Now().UTC().Truncate(time.Second)

	items := []model.StagedItem{
		stagedItem(run.ID, "politics", "story one", "https://example.com/1", now),
		stagedItem(run.ID, "politics", "story two", "https://example.com/2", now.Add(-time.Hour)),
		stagedItem(run.ID, "business", "story three", "https://example.com/3", now),
	}
	n, err := st.InsertStagedItems(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	politics, err := st.ListStagedItems(ctx, run.ID, ItemFilter{Category: "politics"})
	require.NoError(t, err)
	require.Len(t, politics, 2)

	all, err := st.ListStagedItems(ctx, run.ID, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, st.UpdateItemStatus(ctx, []string{items[0].ID}, model.ItemStatusSelected, ""))
	require.NoError(t, st.UpdateItemStatus(ctx, []string{items[1].ID}, model.ItemStatusRejected, model.RejectDuplicateURL))

	selected, err := st.ListStagedItems(ctx, run.ID, ItemFilter{Status: model.ItemStatusSelected})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, items[0].ID, selected[0].ID)

	counts, err := st.CountItemsByStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.ItemStatusSelected])
	assert.Equal(t, 1, counts[model.ItemStatusRejected])
	assert.Equal(t, 1, counts[model.ItemStatusStaged])
}

// --- Analysis jobs ---

func TestSQLiteAnalysisJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run := newTestRun(t, st, model.RunKindFullRefresh)

	items := []model.StagedItem{
		stagedItem(run.ID, "politics", "story one", "https://example.com/1", time.Now().UTC()),
		stagedItem(run.ID, "politics", "story two", "https://example.com/2", time.Now().UTC()),
	}
	_, err := st.InsertStagedItems(ctx, items)
	require.NoError(t, err)

	jobs := []model.AnalysisJob{
		{RunID: run.ID, ItemID: items[0].ID, Kind: model.AnalysisJobKindSentiment, Status: model.JobStatusPending},
		{RunID: run.ID, ItemID: items[1].ID, Kind: model.AnalysisJobKindSentiment, Status: model.JobStatusPending},
	}
	require.NoError(t, st.CreateAnalysisJobs(ctx, jobs))

	pending, err := st.ListAnalysisJobs(ctx, run.ID, model.JobStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 3, pending[0].MaxAttempts) // defaulted

	require.NoError(t, st.MarkJobRunning(ctx, jobs[0].ID))
	require.NoError(t, st.MarkJobComplete(ctx, jobs[0].ID))
	require.NoError(t, st.MarkJobRunning(ctx, jobs[1].ID))
	require.NoError(t, st.MarkJobFailed(ctx, jobs[1].ID, "provider timeout"))

	counts, err := st.CountJobsByStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.JobStatusComplete])
	assert.Equal(t, 1, counts[model.JobStatusFailed])

	errs, err := st.ListJobErrors(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "provider timeout", errs[0])

	done, err := st.ListAnalysisJobs(ctx, run.ID, model.JobStatusComplete)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].Attempts)
	assert.NotNil(t, done[0].StartedAt)
	assert.NotNil(t, done[0].CompletedAt)
}

// --- Staged analysis ---

func TestSQLiteStagedAnalysisUpsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run := newTestRun(t, st, model.RunKindFullRefresh)

	items := []model.StagedItem{stagedItem(run.ID, "politics", "story", "https://example.com/1", time.Now().UTC())}
	_, err := st.InsertStagedItems(ctx, items)
	require.NoError(t, err)

	perspectives := []model.StagedPerspective{
		{Lean: model.LeanLeft, Summary: "left view", Sentiment: -0.4},
		{Lean: model.LeanCenter, Summary: "center view", Sentiment: 0},
		{Lean: model.LeanRight, Summary: "right view", Sentiment: 0.3,
			Evidence: []model.EvidencePost{{Platform: "x", PlatformID: "123", Author: "someone", Text: "a post"}}},
	}
	require.NoError(t, st.InsertStagedAnalysis(ctx, items[0].ID, "neutral summary", perspectives))

	// Re-inserting replaces rather than duplicates.
	perspectives[0].Summary = "revised left view"
	require.NoError(t, st.InsertStagedAnalysis(ctx, items[0].ID, "revised summary", perspectives))

	summary, got, err := st.ListStagedPerspectives(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "revised summary", summary)
	require.Len(t, got, 3)

	byLean := make(map[model.Lean]model.StagedPerspective)
	for _, p := range got {
		byLean[p.Lean] = p
	}
	assert.Equal(t, "revised left view", byLean[model.LeanLeft].Summary)
	require.Len(t, byLean[model.LeanRight].Evidence, 1)
	assert.Equal(t, "123", byLean[model.LeanRight].Evidence[0].PlatformID)
}

// --- Promotion ---

func promotionFixture(runID string, publishedAt time.Time) PromotionItem {
	item := stagedItem(runID, "politics", "promoted story", "https://example.com/promoted", publishedAt)
	item.ID = "item-1"
	return PromotionItem{
		Item:           item,
		NeutralSummary: "what happened, neutrally",
		Perspectives: []model.StagedPerspective{
			{Lean: model.LeanLeft, Summary: "left", Sentiment: -0.5,
				Evidence: []model.EvidencePost{{Platform: "x", PlatformID: "p1", Author: "a", Text: "t1"}}},
			{Lean: model.LeanCenter, Summary: "center", Sentiment: 0},
			{Lean: model.LeanRight, Summary: "right", Sentiment: 0.5,
				Evidence: []model.EvidencePost{{Platform: "x", PlatformID: "p2", Author: "b", Text: "t2"}}},
		},
	}
}

func TestSQLitePromoteItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	counts, err := st.PromoteItems(ctx, []PromotionItem{promotionFixture("run-1", now)})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Items)
	assert.Equal(t, 3, counts.Perspectives)
	assert.Equal(t, 2, counts.Evidence)

	live, err := st.GetLiveItem(ctx, "https://example.com/promoted")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, "what happened, neutrally", live.NeutralSummary)
	assert.Equal(t, int64(1), live.Version)
}

func TestSQLitePromoteItemsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.PromoteItems(ctx, []PromotionItem{promotionFixture("run-1", now)})
	require.NoError(t, err)
	counts, err := st.PromoteItems(ctx, []PromotionItem{promotionFixture("run-1", now)})
	require.NoError(t, err)

	// Same natural keys, same rows. No duplicates anywhere.
	assert.Equal(t, 1, counts.Items)
	assert.Equal(t, 3, counts.Perspectives)
	assert.Equal(t, 2, counts.Evidence)

	n, err := st.CountLiveByURLs(ctx, []string{"https://example.com/promoted"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live, err := st.GetLiveItem(ctx, "https://example.com/promoted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), live.Version) // re-promotion bumps the version
}

func TestSQLitePromoteItemsEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.PromoteItems(context.Background(), nil)
	assert.Error(t, err)
}

// --- Live analysis updates ---

func TestSQLiteUpdateLiveAnalysis(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.PromoteItems(ctx, []PromotionItem{promotionFixture("run-1", now)})
	require.NoError(t, err)

	perspectives := []model.StagedPerspective{
		{Lean: model.LeanLeft, Summary: "updated left", Sentiment: -0.2},
		{Lean: model.LeanCenter, Summary: "updated center", Sentiment: 0.1},
		{Lean: model.LeanRight, Summary: "updated right", Sentiment: 0.2},
	}
	require.NoError(t, st.UpdateLiveAnalysis(ctx, "https://example.com/promoted", 1, "updated summary", perspectives))

	live, err := st.GetLiveItem(ctx, "https://example.com/promoted")
	require.NoError(t, err)
	assert.Equal(t, "updated summary", live.NeutralSummary)
	assert.Equal(t, int64(2), live.Version)
}

func TestSQLiteUpdateLiveAnalysisVersionConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.PromoteItems(ctx, []PromotionItem{promotionFixture("run-1", now)})
	require.NoError(t, err)

	// Stale expected version: a concurrent writer already moved it.
	err = st.UpdateLiveAnalysis(ctx, "https://example.com/promoted", 99, "stale", nil)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLiteUpdateLiveAnalysisNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateLiveAnalysis(context.Background(), "https://example.com/missing", 1, "x", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.Contains(t, err.Error(), "not found")
}
