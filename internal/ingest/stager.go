package ingest

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/normalize"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// Stager pulls candidates per category and writes normalized staged items.
// Categories fail independently: one upstream failure marks that category
// failed and the rest keep going.
type Stager struct {
	store          store.Store
	adapter        Adapter
	poolMultiplier int
	maxPullRetries int
	concurrency    int
}

// NewStager creates a Stager. poolMultiplier scales each category's target
// into the candidate pool size requested from the adapter.
func NewStager(st store.Store, adapter Adapter, poolMultiplier, maxPullRetries int) *Stager {
	if poolMultiplier <= 0 {
		poolMultiplier = 3
	}
	if maxPullRetries <= 0 {
		maxPullRetries = 3
	}
	return &Stager{
		store:          st,
		adapter:        adapter,
		poolMultiplier: poolMultiplier,
		maxPullRetries: maxPullRetries,
		concurrency:    4,
	}
}

// StageCategories pulls and stages every category in targets concurrently.
// It returns an error only when every category fails; partial failures are
// recorded in category progress and logged.
func (s *Stager) StageCategories(ctx context.Context, runID string, targets map[string]int) error {
	if err := s.store.InitCategoryProgress(ctx, runID, targets); err != nil {
		return err
	}

	categories := make([]string, 0, len(targets))
	for c := range targets {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, category := range categories {
		g.Go(func() error {
			if err := s.stageCategory(gctx, runID, category, targets[category]); err != nil {
				zap.L().Error("category ingestion failed",
					zap.String("run_id", runID),
					zap.String("category", category),
					zap.Error(err),
				)
				mu.Lock()
				failures[category] = err
				mu.Unlock()
				if uerr := s.store.UpdateCategoryProgress(gctx, runID, category, 0, model.CategoryStageFailed); uerr != nil {
					zap.L().Warn("failed to mark category failed", zap.String("category", category), zap.Error(uerr))
				}
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "ingest: stage categories")
	}

	if len(failures) == len(categories) {
		return eris.Errorf("ingest: all %d categories failed", len(categories))
	}
	return nil
}

// StageKeyword pulls and stages a single keyword search. Items are staged
// under the keyword as their category label.
func (s *Stager) StageKeyword(ctx context.Context, runID, keyword string, target int) error {
	targets := map[string]int{keyword: target}
	if err := s.store.InitCategoryProgress(ctx, runID, targets); err != nil {
		return err
	}

	if err := s.store.UpdateCategoryProgress(ctx, runID, keyword, 0, model.CategoryStageFetching); err != nil {
		return err
	}

	candidates, err := s.adapter.Pull(ctx, PullRequest{
		Keyword: keyword,
		Limit:   target * s.poolMultiplier,
	})
	if err != nil {
		if uerr := s.store.UpdateCategoryProgress(ctx, runID, keyword, 0, model.CategoryStageFailed); uerr != nil {
			zap.L().Warn("failed to mark keyword failed", zap.String("keyword", keyword), zap.Error(uerr))
		}
		return eris.Wrapf(err, "ingest: keyword %q", keyword)
	}

	n, err := s.stageCandidates(ctx, runID, keyword, candidates, nil)
	if err != nil {
		return err
	}
	return s.store.UpdateCategoryProgress(ctx, runID, keyword, n, model.CategoryStageReady)
}

func (s *Stager) stageCategory(ctx context.Context, runID, category string, target int) error {
	if err := s.store.UpdateCategoryProgress(ctx, runID, category, 0, model.CategoryStageFetching); err != nil {
		return err
	}

	candidates, err := s.adapter.Pull(ctx, PullRequest{
		Category: category,
		Limit:    target * s.poolMultiplier,
	})
	if err != nil {
		return eris.Wrapf(err, "ingest: category %q", category)
	}

	n, err := s.stageCandidates(ctx, runID, category, candidates, nil)
	if err != nil {
		return err
	}
	return s.store.UpdateCategoryProgress(ctx, runID, category, n, model.CategoryStageReady)
}

// stageCandidates normalizes and inserts candidates, dropping malformed URLs
// and in-batch canonical duplicates. exclude lists canonical URLs to skip.
func (s *Stager) stageCandidates(ctx context.Context, runID, category string, candidates []Candidate, exclude map[string]bool) (int, error) {
	seen := make(map[string]bool, len(candidates))
	items := make([]model.StagedItem, 0, len(candidates))
	for _, c := range candidates {
		canonical, err := normalize.CanonicalURL(c.URL)
		if err != nil {
			zap.L().Debug("dropping candidate with unparseable url",
				zap.String("url", c.URL), zap.Error(err))
			continue
		}
		if seen[canonical] || exclude[canonical] {
			continue
		}
		seen[canonical] = true

		items = append(items, model.StagedItem{
			RunID:           runID,
			Category:        category,
			Title:           c.Title,
			Description:     c.Description,
			URL:             c.URL,
			Source:          c.Source,
			NormalizedTitle: normalize.Title(c.Title),
			CanonicalURL:    canonical,
			Fingerprint:     normalize.Fingerprint(c.Title, c.Description),
			PublishedAt:     c.PublishedAt,
			Status:          model.ItemStatusStaged,
		})
	}

	n, err := s.store.InsertStagedItems(ctx, items)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: stage %s", category)
	}

	zap.L().Info("staged candidates",
		zap.String("run_id", runID),
		zap.String("category", category),
		zap.Int("pulled", len(candidates)),
		zap.Int("staged", n),
	)
	return n, nil
}
