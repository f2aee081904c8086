package pipeline

import (
	"context"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// SelectionStats reports one category's selection outcome.
type SelectionStats struct {
	Category  string `json:"category"`
	Survivors int    `json:"survivors"`
	Selected  int    `json:"selected"`
	Surplus   int    `json:"surplus"`
}

// Selector scores each category's deduplicated survivors and keeps the top K,
// where K is the category's target count. The rest are rejected as surplus.
type Selector struct {
	store   store.Store
	sources *model.SourceRegistry
	now     func() time.Time
}

// NewSelector creates a Selector backed by the publisher trust registry.
func NewSelector(st store.Store, sources *model.SourceRegistry) *Selector {
	return &Selector{store: st, sources: sources, now: time.Now}
}

// Score computes an item's selection score:
// recency max(0, 100-age_hours) + source trust + richness min(30, desc_len/10).
func (s *Selector) Score(item model.StagedItem, now time.Time) float64 {
	ageHours := now.Sub(item.PublishedAt).Hours()
	recency := 100 - ageHours
	if recency < 0 {
		recency = 0
	}

	trust := s.sources.TrustScore(item.Source, host(item.CanonicalURL))
	if trust < model.TrustScoreKnown {
		trust = model.TrustScoreKnown
	}

	richness := float64(len(item.Description)) / 10
	if richness > 30 {
		richness = 30
	}

	return recency + float64(trust) + richness
}

// SelectTopK ranks each category's deduplicated items and marks the top
// min(target, survivors) selected, the remainder rejected as surplus. It
// also advances each category's progress to ready with the selected count.
func (s *Selector) SelectTopK(ctx context.Context, runID string) ([]SelectionStats, error) {
	progress, err := s.store.ListCategoryProgress(ctx, runID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var stats []SelectionStats
	for _, p := range progress {
		if p.Stage == model.CategoryStageFailed {
			continue
		}

		items, err := s.store.ListStagedItems(ctx, runID, store.ItemFilter{
			Status:   model.ItemStatusDeduplicated,
			Category: p.Category,
		})
		if err != nil {
			return nil, err
		}

		sort.SliceStable(items, func(i, j int) bool {
			si, sj := s.Score(items[i], now), s.Score(items[j], now)
			if si != sj {
				return si > sj
			}
			return items[i].ID < items[j].ID
		})

		k := p.TargetCount
		if k > len(items) {
			k = len(items)
		}

		selected := make([]string, 0, k)
		surplus := make([]string, 0, len(items)-k)
		for i, it := range items {
			if i < k {
				selected = append(selected, it.ID)
			} else {
				surplus = append(surplus, it.ID)
			}
		}

		if err := s.store.UpdateItemStatus(ctx, selected, model.ItemStatusSelected, ""); err != nil {
			return nil, err
		}
		if err := s.store.UpdateItemStatus(ctx, surplus, model.ItemStatusRejected, model.RejectSurplus); err != nil {
			return nil, err
		}
		if err := s.store.UpdateCategoryProgress(ctx, runID, p.Category, len(selected), model.CategoryStageReady); err != nil {
			return nil, err
		}

		stats = append(stats, SelectionStats{
			Category:  p.Category,
			Survivors: len(items),
			Selected:  len(selected),
			Surplus:   len(surplus),
		})
	}

	zap.L().Info("selection complete", zap.String("run_id", runID), zap.Int("categories", len(stats)))
	return stats, nil
}

// ValidateCounts reports the categories whose selected count is below target.
// It reads only; repulling short categories is a separate bounded operation.
func (s *Selector) ValidateCounts(ctx context.Context, runID string) ([]model.CategoryProgress, error) {
	progress, err := s.store.ListCategoryProgress(ctx, runID)
	if err != nil {
		return nil, err
	}

	var short []model.CategoryProgress
	for _, p := range progress {
		if p.Short() {
			short = append(short, p)
		}
	}
	return short, nil
}

func host(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return u.Host
}
