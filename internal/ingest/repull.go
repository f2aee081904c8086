package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// RepullResult reports one category's repull outcome.
type RepullResult struct {
	Category string `json:"category"`
	Attempts int    `json:"attempts"`
	Added    int    `json:"added"`
	Skipped  bool   `json:"skipped"` // attempt budget exhausted
}

// RepullShort re-pulls every category that is below target. Each category's
// attempt counter is bounded; exhausted categories are skipped, not failed.
// Already-staged canonical URLs are excluded so repeated calls with the same
// upstream data add nothing.
func (s *Stager) RepullShort(ctx context.Context, runID string) ([]RepullResult, error) {
	progress, err := s.store.ListCategoryProgress(ctx, runID)
	if err != nil {
		return nil, err
	}

	var results []RepullResult
	for _, p := range progress {
		if !p.Short() || p.Stage == model.CategoryStageFailed {
			continue
		}
		res, err := s.repullCategory(ctx, runID, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Stager) repullCategory(ctx context.Context, runID string, p model.CategoryProgress) (RepullResult, error) {
	res := RepullResult{Category: p.Category}

	attempts, err := s.store.IncrementPullAttempts(ctx, runID, p.Category)
	if err != nil {
		return res, err
	}
	res.Attempts = attempts

	if attempts > s.maxPullRetries {
		res.Skipped = true
		zap.L().Warn("repull budget exhausted",
			zap.String("run_id", runID),
			zap.String("category", p.Category),
			zap.Int("attempts", attempts),
		)
		return res, nil
	}

	// Everything already staged in this run is off the table, so a repull
	// against unchanged upstream data is a no-op.
	staged, err := s.store.ListStagedItems(ctx, runID, store.ItemFilter{Category: p.Category})
	if err != nil {
		return res, err
	}
	exclude := make(map[string]bool, len(staged))
	for _, it := range staged {
		exclude[it.CanonicalURL] = true
	}

	shortfall := p.TargetCount - p.CurrentCount
	candidates, err := s.adapter.Pull(ctx, PullRequest{
		Category: p.Category,
		Limit:    shortfall * s.poolMultiplier,
		Exclude:  exclude,
	})
	if err != nil {
		return res, eris.Wrapf(err, "ingest: repull %q", p.Category)
	}

	added, err := s.stageCandidates(ctx, runID, p.Category, candidates, exclude)
	if err != nil {
		return res, err
	}
	res.Added = added

	if err := s.store.UpdateCategoryProgress(ctx, runID, p.Category, p.CurrentCount+added, model.CategoryStageReady); err != nil {
		return res, err
	}
	return res, nil
}
