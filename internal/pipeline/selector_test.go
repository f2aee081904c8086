package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidoxa/newsdesk/internal/model"
)

func testRegistry() *model.SourceRegistry {
	return model.NewSourceRegistry([]model.Source{
		{Name: "Trusted Wire", Domain: "trusted.example.com", Tier: model.SourceTierTrusted},
		{Name: "Known Outlet", Domain: "known.example.com", Tier: model.SourceTierKnown},
	})
}

func TestSelectorScore(t *testing.T) {
	sel := NewSelector(newTestStore(t), testRegistry())
	now := time.Now().UTC()

	item := seedItem("run", "politics", "title", strings.Repeat("x", 500), "https://trusted.example.com/a", now)
	item.Source = "Trusted Wire"

	// Fresh, trusted, rich description: 100 + 50 + 30.
	assert.InDelta(t, 180, sel.Score(item, now), 0.01)

	// Recency decays per hour and floors at zero.
	item.PublishedAt = now.Add(-10 * time.Hour)
	assert.InDelta(t, 170, sel.Score(item, now), 0.01)
	item.PublishedAt = now.Add(-500 * time.Hour)
	assert.InDelta(t, 80, sel.Score(item, now), 0.01)
}

func TestSelectorScoreUnknownSourceGetsBaseTrust(t *testing.T) {
	sel := NewSelector(newTestStore(t), testRegistry())
	now := time.Now().UTC()

	item := seedItem("run", "politics", "title", "", "https://nobody.example.com/a", now)
	item.Source = "Unheard Of Blog"

	// Unknown publishers still get the base (non-trusted) trust bonus.
	assert.InDelta(t, 100+model.TrustScoreKnown, sel.Score(item, now), 0.01)
}

func TestSelectorScoreRichnessCap(t *testing.T) {
	sel := NewSelector(newTestStore(t), testRegistry())
	now := time.Now().UTC()

	item := seedItem("run", "politics", "title", strings.Repeat("x", 10000), "https://known.example.com/a", now)
	item.Source = "Known Outlet"
	assert.InDelta(t, 100+20+30, sel.Score(item, now), 0.01)
}

func TestSelectTopK(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.InitCategoryProgress(ctx, run.ID, map[string]int{"politics": 5}))

	// Ten survivors aged 0,2,...,18 hours: identical source and description,
	// so recency alone decides the ranking.
	var items []model.StagedItem
	for i := 0; i < 10; i++ {
		it := seedItem(run.ID, "politics", fmt.Sprintf("story %d", i), "same description",
			fmt.Sprintf("https://example.com/%d", i), now.Add(-time.Duration(2*i)*time.Hour))
		it.Status = model.ItemStatusDeduplicated
		items = append(items, it)
	}
	insertItems(t, st, items)

	sel := NewSelector(st, testRegistry())
	sel.now = func() time.Time { return now }

	stats, err := sel.SelectTopK(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 10, stats[0].Survivors)
	assert.Equal(t, 5, stats[0].Selected)
	assert.Equal(t, 5, stats[0].Surplus)

	selected := itemsByStatus(t, st, run.ID, model.ItemStatusSelected)
	require.Len(t, selected, 5)
	for _, it := range selected {
		age := now.Sub(it.PublishedAt)
		assert.LessOrEqual(t, age, 8*time.Hour, "item %s should be among the five most recent", it.Title)
	}

	rejected := itemsByStatus(t, st, run.ID, model.ItemStatusRejected)
	require.Len(t, rejected, 5)
	for _, it := range rejected {
		assert.Equal(t, model.RejectSurplus, it.RejectionReason)
	}

	progress, err := st.ListCategoryProgress(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 5, progress[0].CurrentCount)
	assert.Equal(t, model.CategoryStageReady, progress[0].Stage)
}

func TestSelectTopKFewerThanTarget(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.InitCategoryProgress(ctx, run.ID, map[string]int{"politics": 10}))

	var items []model.StagedItem
	for i := 0; i < 3; i++ {
		it := seedItem(run.ID, "politics", fmt.Sprintf("story %d", i), "d",
			fmt.Sprintf("https://example.com/%d", i), now)
		it.Status = model.ItemStatusDeduplicated
		items = append(items, it)
	}
	insertItems(t, st, items)

	stats, err := NewSelector(st, testRegistry()).SelectTopK(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Selected)
	assert.Zero(t, stats[0].Surplus)
}

func TestSelectTopKSkipsFailedCategories(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()

	require.NoError(t, st.InitCategoryProgress(ctx, run.ID, map[string]int{"politics": 5, "business": 5}))
	require.NoError(t, st.UpdateCategoryProgress(ctx, run.ID, "business", 0, model.CategoryStageFailed))

	stats, err := NewSelector(st, testRegistry()).SelectTopK(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "politics", stats[0].Category)
}

func TestValidateCounts(t *testing.T) {
	st := newTestStore(t)
	run := createTestRun(t, st)
	ctx := context.Background()

	require.NoError(t, st.InitCategoryProgress(ctx, run.ID, map[string]int{"politics": 5, "business": 5}))
	require.NoError(t, st.UpdateCategoryProgress(ctx, run.ID, "politics", 5, model.CategoryStageReady))
	require.NoError(t, st.UpdateCategoryProgress(ctx, run.ID, "business", 2, model.CategoryStageReady))

	short, err := NewSelector(st, testRegistry()).ValidateCounts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, short, 1)
	assert.Equal(t, "business", short[0].Category)
	assert.Equal(t, 2, short[0].CurrentCount)
}
