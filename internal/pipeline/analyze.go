package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/omnidoxa/newsdesk/internal/analysis"
	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// BatchResult reports one batch invocation over a run's pending jobs.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Remaining int      `json:"remaining"`
	Errors    []string `json:"errors,omitempty"`
}

// AnalysisSummary aggregates batch results across a whole run.
type AnalysisSummary struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Analyzer drives the external analysis provider over a run's selected
// items: fixed-size chunks, a wall-clock budget per item, a rate limiter
// between calls, and neutral fallback perspectives when a call fails. One
// item's failure never aborts the batch.
type Analyzer struct {
	store       store.Store
	provider    analysis.Provider
	chunkSize   int
	itemTimeout time.Duration
	limiter     *rate.Limiter
	maxAttempts int
}

// NewAnalyzer creates an Analyzer. ratePerSec throttles provider calls.
func NewAnalyzer(st store.Store, provider analysis.Provider, chunkSize int, itemTimeout time.Duration, ratePerSec float64, maxAttempts int) *Analyzer {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	if itemTimeout <= 0 {
		itemTimeout = 2 * time.Minute
	}
	if ratePerSec <= 0 {
		ratePerSec = 0.5
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Analyzer{
		store:       st,
		provider:    provider,
		chunkSize:   chunkSize,
		itemTimeout: itemTimeout,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), 1),
		maxAttempts: maxAttempts,
	}
}

// CreateJobs inserts one pending sentiment job per selected item. Items that
// already have a job keep it (repeated calls add nothing).
func (a *Analyzer) CreateJobs(ctx context.Context, runID string) (int, error) {
	items, err := a.store.ListStagedItems(ctx, runID, store.ItemFilter{Status: model.ItemStatusSelected})
	if err != nil {
		return 0, err
	}

	existing, err := a.store.ListAnalysisJobs(ctx, runID, "")
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, j := range existing {
		have[j.ItemID] = true
	}

	var jobs []model.AnalysisJob
	for _, it := range items {
		if have[it.ID] {
			continue
		}
		jobs = append(jobs, model.AnalysisJob{
			RunID:       runID,
			ItemID:      it.ID,
			Kind:        model.AnalysisJobKindSentiment,
			Status:      model.JobStatusPending,
			MaxAttempts: a.maxAttempts,
		})
	}
	if err := a.store.CreateAnalysisJobs(ctx, jobs); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// RunBatch processes one chunk of pending jobs and reports how many remain.
// Callers loop until Remaining is zero.
func (a *Analyzer) RunBatch(ctx context.Context, runID string) (*BatchResult, error) {
	pending, err := a.store.ListAnalysisJobs(ctx, runID, model.JobStatusPending)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	if len(pending) == 0 {
		return result, nil
	}

	chunk := pending
	if len(chunk) > a.chunkSize {
		chunk = chunk[:a.chunkSize]
	}
	result.Remaining = len(pending) - len(chunk)

	items, err := a.store.ListStagedItems(ctx, runID, store.ItemFilter{Status: model.ItemStatusSelected})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.StagedItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	for _, job := range chunk {
		if err := a.limiter.Wait(ctx); err != nil {
			return result, eris.Wrap(err, "pipeline: analysis rate wait")
		}

		item, ok := byID[job.ItemID]
		if !ok {
			if err := a.store.MarkJobFailed(ctx, job.ID, "item no longer selected"); err != nil {
				return result, err
			}
			result.Failed++
			continue
		}

		if err := a.analyzeOne(ctx, job, item, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// analyzeOne runs one provider call. Provider errors degrade to fallback
// perspectives and a failed job; only storage errors propagate.
func (a *Analyzer) analyzeOne(ctx context.Context, job model.AnalysisJob, item model.StagedItem, result *BatchResult) error {
	if err := a.store.MarkJobRunning(ctx, job.ID); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.itemTimeout)
	analysisResult, err := a.provider.Analyze(callCtx, item)
	cancel()

	if err != nil {
		zap.L().Warn("analysis failed, writing fallback perspectives",
			zap.String("run_id", job.RunID),
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
		if perr := a.persist(ctx, item.ID, analysis.FallbackResult(item), true); perr != nil {
			return perr
		}
		if merr := a.store.MarkJobFailed(ctx, job.ID, err.Error()); merr != nil {
			return merr
		}
		result.Failed++
		result.Errors = append(result.Errors, item.ID+": "+err.Error())
		return nil
	}

	if err := a.persist(ctx, item.ID, analysisResult, false); err != nil {
		return err
	}
	if err := a.store.MarkJobComplete(ctx, job.ID); err != nil {
		return err
	}
	result.Processed++
	return nil
}

func (a *Analyzer) persist(ctx context.Context, itemID string, result *model.AnalysisResult, fallback bool) error {
	perspectives := make([]model.StagedPerspective, 0, len(result.Perspectives))
	for _, p := range result.Perspectives {
		perspectives = append(perspectives, model.StagedPerspective{
			ItemID:    itemID,
			Lean:      p.Lean,
			Summary:   p.Summary,
			Sentiment: p.Sentiment,
			Fallback:  fallback,
			Evidence:  p.Evidence,
		})
	}
	return a.store.InsertStagedAnalysis(ctx, itemID, result.NeutralSummary, perspectives)
}

// RunAll loops RunBatch until no pending jobs remain, then reports the run's
// totals. It returns an error only when every job failed, which escalates
// the analysis stage; partial failure is a warning for the caller.
func (a *Analyzer) RunAll(ctx context.Context, runID string) (*AnalysisSummary, error) {
	summary := &AnalysisSummary{}
	for {
		batch, err := a.RunBatch(ctx, runID)
		if err != nil {
			return summary, err
		}
		summary.Processed += batch.Processed
		summary.Failed += batch.Failed
		summary.Errors = append(summary.Errors, batch.Errors...)
		if batch.Remaining == 0 {
			break
		}
	}

	total := summary.Processed + summary.Failed
	if total > 0 && summary.Processed == 0 {
		return summary, eris.Errorf("pipeline: analysis failed for all %d items", total)
	}
	return summary, nil
}
