package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidoxa/newsdesk/internal/config"
	"github.com/omnidoxa/newsdesk/internal/ingest"
	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			PoolMultiplier: 3,
			MaxPullRetries: 3,
			Categories:     []string{"politics"},
			TargetPerCat:   5,
		},
		Analysis: config.AnalysisConfig{
			ChunkSize:       10,
			ItemTimeoutSecs: 60,
			RatePerSec:      1000,
			MaxAttempts:     3,
		},
		Pipeline: config.PipelineConfig{
			LockStalenessMins: 10,
			TitleJaccard:      0.75,
			TitleSimilarity:   0.80,
		},
	}
}

// scriptedAdapter serves canned candidates per category. Categories are
// staged concurrently, so access is locked.
type scriptedAdapter struct {
	mu         sync.Mutex
	byCategory map[string][]ingest.Candidate
	failAll    bool
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Pull(_ context.Context, req ingest.PullRequest) ([]ingest.Candidate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return nil, fmt.Errorf("upstream unavailable")
	}
	out := a.byCategory[req.Category]
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// feedCandidates returns n candidates with genuinely distinct titles so the
// fuzzy title pass does not collapse them.
func feedCandidates(category string, n int) []ingest.Candidate {
	titles := []string{
		"Senate weighs new budget framework",
		"Governor vetoes transit funding measure",
		"Court ruling reshapes district maps",
		"Trade talks stall over tariff dispute",
		"City council approves housing overhaul",
		"Watchdog flags lobbying disclosures",
	}
	if n > len(titles) {
		panic("feedCandidates: not enough distinct titles")
	}
	now := time.Now().UTC().Truncate(time.Second)
	out := make([]ingest.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ingest.Candidate{
			Title:       titles[i],
			Description: fmt.Sprintf("coverage of %s, story %d", titles[i], i),
			URL:         fmt.Sprintf("https://example.com/%s/%d", category, i),
			Source:      "Example Wire",
			PublishedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return out
}

func newTestPipeline(st store.Store, adapter ingest.Adapter, provider *fakeProvider) *Pipeline {
	cfg := testConfig()
	stager := ingest.NewStager(st, adapter, cfg.Ingest.PoolMultiplier, cfg.Ingest.MaxPullRetries)
	return New(cfg, st, stager, provider, testRegistry())
}

func TestRunBusySignalOnContention(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ok, err := st.TryAcquireLock(ctx, "other-run")
	require.NoError(t, err)
	require.True(t, ok)

	p := newTestPipeline(st, &scriptedAdapter{}, &fakeProvider{})
	result, err := p.Run(ctx, model.RunKindFullRefresh, "test", fullRefreshConfig())
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "pipeline lock held by another run")

	// The holder keeps the lock.
	lock, err := st.GetLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "other-run", lock.RunID)
}

func TestRunFullRefreshHappyPath(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	adapter := &scriptedAdapter{byCategory: map[string][]ingest.Candidate{
		"politics": feedCandidates("politics", 6),
	}}
	provider := &fakeProvider{}
	p := newTestPipeline(st, adapter, provider)

	result, err := p.Run(ctx, model.RunKindFullRefresh, "test", fullRefreshConfig())
	require.NoError(t, err)
	assert.True(t, result.Success, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	for _, stage := range []string{model.StageIngestion, model.StageDeduplication, model.StageValidation, model.StageAnalysis, model.StagePromotion} {
		require.Contains(t, result.Stages, stage)
		assert.Equal(t, StageStatusComplete, result.Stages[stage].Status, stage)
	}

	run, err := st.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	// Five of six candidates make it live.
	selected := itemsByStatus(t, st, result.RunID, model.ItemStatusSelected)
	require.Len(t, selected, 5)
	for _, it := range selected {
		live, err := st.GetLiveItem(ctx, it.CanonicalURL)
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.Equal(t, "neutral summary for "+it.Title, live.NeutralSummary)
	}

	lock, err := st.GetLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestRunIngestionFailureFailsRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := newTestPipeline(st, &scriptedAdapter{failAll: true}, &fakeProvider{})
	result, err := p.Run(ctx, model.RunKindFullRefresh, "test", fullRefreshConfig())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StageStatusFailed, result.Stages[model.StageIngestion].Status)

	run, err := st.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	lock, err := st.GetLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestRunAnalysisTotalFailureFailsRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cands := feedCandidates("politics", 5)
	fail := make(map[string]bool, len(cands))
	for _, c := range cands {
		fail[c.Title] = true
	}
	adapter := &scriptedAdapter{byCategory: map[string][]ingest.Candidate{"politics": cands}}
	p := newTestPipeline(st, adapter, &fakeProvider{failTitles: fail})

	result, err := p.Run(ctx, model.RunKindFullRefresh, "test", fullRefreshConfig())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StageStatusFailed, result.Stages[model.StageAnalysis].Status)

	run, err := st.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestRunPartialAnalysisFailureWarns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cands := feedCandidates("politics", 5)
	adapter := &scriptedAdapter{byCategory: map[string][]ingest.Candidate{"politics": cands}}
	p := newTestPipeline(st, adapter, &fakeProvider{failTitles: map[string]bool{cands[0].Title: true}})

	result, err := p.Run(ctx, model.RunKindFullRefresh, "test", fullRefreshConfig())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StageStatusWarning, result.Stages[model.StageAnalysis].Status)

	// The fallback item still goes live with neutral perspectives.
	run, err := st.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}

func TestRunReanalyzeUpdatesLiveItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	adapter := &scriptedAdapter{byCategory: map[string][]ingest.Candidate{
		"politics": feedCandidates("politics", 5),
	}}
	p := newTestPipeline(st, adapter, &fakeProvider{})

	first, err := p.Run(ctx, model.RunKindFullRefresh, "test", fullRefreshConfig())
	require.NoError(t, err)
	require.True(t, first.Success)

	selected := itemsByStatus(t, st, first.RunID, model.ItemStatusSelected)
	require.NotEmpty(t, selected)
	url := selected[0].CanonicalURL

	before, err := st.GetLiveItem(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, before)

	second, err := p.Run(ctx, model.RunKindReanalyze, "test", model.RunConfig{
		Reanalyze: &model.ReanalyzeConfig{CanonicalURLs: []string{url}},
	})
	require.NoError(t, err)
	assert.True(t, second.Success, "errors: %v", second.Errors)

	after, err := st.GetLiveItem(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestRunReanalyzeUnknownURLFails(t *testing.T) {
	st := newTestStore(t)

	p := newTestPipeline(st, &scriptedAdapter{}, &fakeProvider{})
	result, err := p.Run(context.Background(), model.RunKindReanalyze, "test", model.RunConfig{
		Reanalyze: &model.ReanalyzeConfig{CanonicalURLs: []string{"https://example.com/missing"}},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
}
