package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// PromotionResult reports a promotion attempt. Success false with errors and
// zero counts means the preconditions failed and nothing was written.
type PromotionResult struct {
	Success  bool                  `json:"success"`
	Promoted store.PromotionCounts `json:"promoted"`
	Errors   []string              `json:"errors,omitempty"`
}

// Promoter copies a run's selected items and their staged analysis into the
// live store in one transaction. Live rows are keyed by natural identity, so
// promoting the same run twice writes the same rows.
type Promoter struct {
	store store.Store
}

// NewPromoter creates a Promoter.
func NewPromoter(st store.Store) *Promoter {
	return &Promoter{store: st}
}

// Promote validates preconditions, then UPSERTs every selected item (with
// perspectives and evidence) inside a single transaction. categories, when
// non-empty, restricts promotion to that subset. Precondition failures
// return Success=false with no error; a transaction failure returns both.
func (p *Promoter) Promote(ctx context.Context, runID string, categories []string) (*PromotionResult, error) {
	result := &PromotionResult{}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		result.Errors = append(result.Errors, "run is not active: "+string(run.Status))
		return result, nil
	}

	items, err := p.selectedItems(ctx, runID, categories)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		result.Errors = append(result.Errors, "no selected items to promote")
		return result, nil
	}

	jobCounts, err := p.store.CountJobsByStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	if open := jobCounts[model.JobStatusPending] + jobCounts[model.JobStatusRunning]; open > 0 {
		result.Errors = append(result.Errors, "analysis jobs still open")
		return result, nil
	}

	promotion := make([]store.PromotionItem, 0, len(items))
	for _, it := range items {
		summary, perspectives, err := p.store.ListStagedPerspectives(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		promotion = append(promotion, store.PromotionItem{
			Item:           it,
			NeutralSummary: summary,
			Perspectives:   perspectives,
		})
	}

	counts, err := p.store.PromoteItems(ctx, promotion)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	result.Success = true
	result.Promoted = counts

	p.verify(ctx, runID, items)

	zap.L().Info("promotion complete",
		zap.String("run_id", runID),
		zap.Int("items", counts.Items),
		zap.Int("perspectives", counts.Perspectives),
		zap.Int("evidence", counts.Evidence),
	)
	return result, nil
}

func (p *Promoter) selectedItems(ctx context.Context, runID string, categories []string) ([]model.StagedItem, error) {
	if len(categories) == 0 {
		return p.store.ListStagedItems(ctx, runID, store.ItemFilter{Status: model.ItemStatusSelected})
	}
	var items []model.StagedItem
	for _, c := range categories {
		batch, err := p.store.ListStagedItems(ctx, runID, store.ItemFilter{
			Status:   model.ItemStatusSelected,
			Category: c,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

// verify is the advisory post-count: the transaction already committed, so a
// mismatch is logged, never failed.
func (p *Promoter) verify(ctx context.Context, runID string, items []model.StagedItem) {
	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = it.CanonicalURL
	}
	live, err := p.store.CountLiveByURLs(ctx, urls)
	if err != nil {
		zap.L().Warn("promotion verification query failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if live != len(urls) {
		zap.L().Warn("promotion count mismatch",
			zap.String("run_id", runID),
			zap.Int("expected", len(urls)),
			zap.Int("live", live),
		)
	}
}
