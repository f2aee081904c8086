package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/normalize"
	"github.com/omnidoxa/newsdesk/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func createTestRun(t *testing.T, st store.Store) *model.Run {
	t.Helper()
	run := &model.Run{
		Kind:    model.RunKindFullRefresh,
		Trigger: "test",
		Status:  model.RunStatusRunning,
		Config: model.RunConfig{
			FullRefresh: &model.FullRefreshConfig{Categories: []string{"politics"}, TargetPerCategory: 5},
		},
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

// seedItem builds a staged item with the normalized fields the stager would
// have computed.
func seedItem(runID, category, title, desc, url string, publishedAt time.Time) model.StagedItem {
	return model.StagedItem{
		RunID:           runID,
		Category:        category,
		Title:           title,
		Description:     desc,
		URL:             url,
		Source:          "Example Wire",
		NormalizedTitle: normalize.Title(title),
		CanonicalURL:    url,
		Fingerprint:     normalize.Fingerprint(title, desc),
		PublishedAt:     publishedAt,
		Status:          model.ItemStatusStaged,
	}
}

func insertItems(t *testing.T, st store.Store, items []model.StagedItem) {
	t.Helper()
	_, err := st.InsertStagedItems(context.Background(), items)
	require.NoError(t, err)
}

func itemsByStatus(t *testing.T, st store.Store, runID string, status model.ItemStatus) []model.StagedItem {
	t.Helper()
	items, err := st.ListStagedItems(context.Background(), runID, store.ItemFilter{Status: status})
	require.NoError(t, err)
	return items
}

// fakeProvider implements analysis.Provider with per-item scripted failures.
type fakeProvider struct {
	failTitles map[string]bool
	delay      time.Duration
	calls      int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Analyze(ctx context.Context, item model.StagedItem) (*model.AnalysisResult, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.failTitles[item.Title] {
		return nil, errors.New("provider unavailable")
	}
	return &model.AnalysisResult{
		NeutralSummary: "neutral summary for " + item.Title,
		Perspectives: []model.PerspectiveResult{
			{Lean: model.LeanLeft, Sentiment: -0.3, Summary: "left take"},
			{Lean: model.LeanCenter, Sentiment: 0, Summary: "center take"},
			{Lean: model.LeanRight, Sentiment: 0.3, Summary: "right take"},
		},
	}, nil
}
