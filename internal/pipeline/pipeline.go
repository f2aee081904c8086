package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/analysis"
	"github.com/omnidoxa/newsdesk/internal/config"
	"github.com/omnidoxa/newsdesk/internal/ingest"
	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// Stage outcome labels.
const (
	StageStatusComplete = "complete"
	StageStatusWarning  = "warning"
	StageStatusFailed   = "failed"
	StageStatusSkipped  = "skipped"
)

// StageResult is one stage's outcome within a run.
type StageResult struct {
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Result is the structured outcome of one pipeline invocation. Expected
// failure modes (contention, partial analysis failure) surface here, not as
// returned errors.
type Result struct {
	Success    bool                   `json:"success"`
	RunID      string                 `json:"run_id,omitempty"`
	Stages     map[string]StageResult `json:"stages"`
	Errors     []string               `json:"errors,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
}

// Pipeline chains ingestion, deduplication, selection, analysis, and
// promotion for a single run, recording per-stage outcomes.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	runs     *RunManager
	stager   *ingest.Stager
	deduper  *Deduper
	selector *Selector
	analyzer *Analyzer
	promoter *Promoter
	provider analysis.Provider
}

// New wires a Pipeline from its dependencies.
func New(cfg *config.Config, st store.Store, stager *ingest.Stager, provider analysis.Provider, sources *model.SourceRegistry) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		runs:     NewRunManager(st, cfg.Pipeline.LockStaleness()),
		stager:   stager,
		deduper:  NewDeduper(st, cfg.Pipeline.TitleJaccard, cfg.Pipeline.TitleSimilarity),
		selector: NewSelector(st, sources),
		analyzer: NewAnalyzer(st, provider, cfg.Analysis.ChunkSize, cfg.Analysis.ItemTimeout(), cfg.Analysis.RatePerSec, cfg.Analysis.MaxAttempts),
		promoter: NewPromoter(st),
		provider: provider,
	}
}

// Runs exposes the run manager for status queries and operator commands.
func (p *Pipeline) Runs() *RunManager { return p.runs }

// Stager exposes the ingestion stager for the repull command.
func (p *Pipeline) Stager() *ingest.Stager { return p.stager }

// Run creates a run of the given kind and executes it to completion. Lock
// contention returns a structured busy result, not an error.
func (p *Pipeline) Run(ctx context.Context, kind model.RunKind, trigger string, cfg model.RunConfig) (*Result, error) {
	start := time.Now()

	run, err := p.runs.CreateRun(ctx, kind, trigger, cfg)
	if errors.Is(err, ErrLockHeld) {
		result := &Result{Stages: make(map[string]StageResult)}
		if run != nil {
			result.RunID = run.ID
		}
		result.Errors = append(result.Errors, ErrLockHeld.Error())
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	return p.Execute(ctx, run), nil
}

// Execute runs the stages for an already-created run. The HTTP surface creates
// the run synchronously so it can hand the id back to the caller, then invokes
// this in the background.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run) *Result {
	start := time.Now()
	result := &Result{RunID: run.ID, Stages: make(map[string]StageResult)}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))
	log.Info("pipeline run starting", zap.String("trigger", run.Trigger))

	if run.Kind == model.RunKindReanalyze {
		p.runReanalyze(ctx, run, result, log)
	} else {
		p.runNewData(ctx, run, result, log)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	log.Info("pipeline run finished",
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", result.DurationMS),
	)
	return result
}

// trackStage times fn and records its outcome under name. It returns false
// when the stage failed hard.
func (p *Pipeline) trackStage(result *Result, log *zap.Logger, name string, fn func() (string, error)) bool {
	start := time.Now()
	detail, err := fn()
	stage := StageResult{
		Status:     StageStatusComplete,
		Detail:     detail,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		stage.Status = StageStatusFailed
		stage.Error = err.Error()
		result.Errors = append(result.Errors, name+": "+err.Error())
		log.Error("stage failed", zap.String("stage", name), zap.Error(err))
	} else {
		log.Info("stage complete", zap.String("stage", name), zap.String("detail", detail), zap.Int64("duration_ms", stage.DurationMS))
	}
	result.Stages[name] = stage
	return err == nil
}

func (p *Pipeline) warnStage(result *Result, name, warning string) {
	stage := result.Stages[name]
	stage.Status = StageStatusWarning
	if stage.Detail != "" {
		stage.Detail += "; "
	}
	stage.Detail += warning
	result.Stages[name] = stage
	result.Errors = append(result.Errors, name+": "+warning)
}

func (p *Pipeline) runNewData(ctx context.Context, run *model.Run, result *Result, log *zap.Logger) {
	fail := func(msg string) {
		if err := p.runs.FailRun(ctx, run.ID, msg); err != nil {
			log.Error("failed to mark run failed", zap.Error(err))
		}
	}

	// Ingestion.
	if ok := p.trackStage(result, log, model.StageIngestion, func() (string, error) {
		if err := p.runs.SetStage(ctx, run.ID, model.RunStatusRunning, model.StageIngestion); err != nil {
			return "", err
		}
		return p.ingest(ctx, run)
	}); !ok {
		fail(result.Stages[model.StageIngestion].Error)
		return
	}

	// Deduplication.
	if ok := p.trackStage(result, log, model.StageDeduplication, func() (string, error) {
		if err := p.runs.SetStage(ctx, run.ID, model.RunStatusRunning, model.StageDeduplication); err != nil {
			return "", err
		}
		stats, err := p.deduper.Run(ctx, run.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d items, %d duplicates, %d survivors", stats.TotalItems, stats.DuplicatesFound(), stats.Survivors), nil
	}); !ok {
		fail(result.Stages[model.StageDeduplication].Error)
		return
	}

	// Selection and count validation.
	var short []model.CategoryProgress
	if ok := p.trackStage(result, log, model.StageValidation, func() (string, error) {
		if err := p.runs.SetStage(ctx, run.ID, model.RunStatusRunning, model.StageValidation); err != nil {
			return "", err
		}
		stats, err := p.selector.SelectTopK(ctx, run.ID)
		if err != nil {
			return "", err
		}
		selected := 0
		for _, s := range stats {
			selected += s.Selected
		}
		short, err = p.selector.ValidateCounts(ctx, run.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d selected across %d categories", selected, len(stats)), nil
	}); !ok {
		fail(result.Stages[model.StageValidation].Error)
		return
	}
	if len(short) > 0 {
		names := make([]string, len(short))
		for i, c := range short {
			names[i] = fmt.Sprintf("%s %d/%d", c.Category, c.CurrentCount, c.TargetCount)
		}
		p.warnStage(result, model.StageValidation, "short categories: "+strings.Join(names, ", "))
	}

	// Analysis. Total failure escalates; partial failure is a warning.
	var summary *AnalysisSummary
	if ok := p.trackStage(result, log, model.StageAnalysis, func() (string, error) {
		if err := p.runs.SetStage(ctx, run.ID, model.RunStatusAnalyzing, model.StageAnalysis); err != nil {
			return "", err
		}
		if _, err := p.analyzer.CreateJobs(ctx, run.ID); err != nil {
			return "", err
		}
		var err error
		summary, err = p.analyzer.RunAll(ctx, run.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d analyzed, %d fallback", summary.Processed, summary.Failed), nil
	}); !ok {
		fail(result.Stages[model.StageAnalysis].Error)
		return
	}
	if summary != nil && summary.Failed > 0 {
		p.warnStage(result, model.StageAnalysis, fmt.Sprintf("%d items fell back to neutral perspectives", summary.Failed))
	}

	// Promotion.
	var promotion *PromotionResult
	if ok := p.trackStage(result, log, model.StagePromotion, func() (string, error) {
		if err := p.runs.SetStage(ctx, run.ID, model.RunStatusPromoting, model.StagePromotion); err != nil {
			return "", err
		}
		var err error
		promotion, err = p.promoter.Promote(ctx, run.ID, nil)
		if err != nil {
			return "", err
		}
		if !promotion.Success {
			return "", eris.New(strings.Join(promotion.Errors, "; "))
		}
		return fmt.Sprintf("%d items, %d perspectives, %d evidence", promotion.Promoted.Items, promotion.Promoted.Perspectives, promotion.Promoted.Evidence), nil
	}); !ok {
		fail(result.Stages[model.StagePromotion].Error)
		return
	}

	if err := p.runs.CompleteRun(ctx, run.ID); err != nil {
		result.Errors = append(result.Errors, "complete: "+err.Error())
		return
	}
	result.Success = true
}

// ingest stages candidates according to the run's config variant.
func (p *Pipeline) ingest(ctx context.Context, run *model.Run) (string, error) {
	switch {
	case run.Config.FullRefresh != nil:
		c := run.Config.FullRefresh
		target := c.TargetPerCategory
		if target <= 0 {
			target = p.cfg.Ingest.TargetPerCat
		}
		targets := make(map[string]int, len(c.Categories))
		for _, cat := range c.Categories {
			targets[cat] = target
			if t, ok := c.Targets[cat]; ok && t > 0 {
				targets[cat] = t
			}
		}
		if err := p.stager.StageCategories(ctx, run.ID, targets); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d categories", len(targets)), nil

	case run.Config.CategoryRefresh != nil:
		c := run.Config.CategoryRefresh
		targets := map[string]int{c.Category: c.TargetCount}
		if err := p.stager.StageCategories(ctx, run.ID, targets); err != nil {
			return "", err
		}
		return c.Category, nil

	case run.Config.KeywordSearch != nil:
		c := run.Config.KeywordSearch
		if err := p.stager.StageKeyword(ctx, run.ID, c.Keyword, c.MaxItems); err != nil {
			return "", err
		}
		return "keyword " + c.Keyword, nil
	}
	return "", eris.Errorf("pipeline: run %s has no ingestion config", run.ID)
}

// runReanalyze refreshes analysis on already-live items. It bypasses the
// pipeline lock; each write is guarded by the live item's version instead,
// with one retry when a concurrent writer bumps it first.
func (p *Pipeline) runReanalyze(ctx context.Context, run *model.Run, result *Result, log *zap.Logger) {
	urls := run.Config.Reanalyze.CanonicalURLs

	var processed, failed int
	ok := p.trackStage(result, log, model.StageAnalysis, func() (string, error) {
		for _, u := range urls {
			if err := p.reanalyzeOne(ctx, u); err != nil {
				failed++
				result.Errors = append(result.Errors, u+": "+err.Error())
				log.Warn("reanalysis failed", zap.String("url", u), zap.Error(err))
				continue
			}
			processed++
		}
		if processed == 0 {
			return "", eris.Errorf("pipeline: reanalysis failed for all %d items", len(urls))
		}
		return fmt.Sprintf("%d reanalyzed, %d failed", processed, failed), nil
	})
	if !ok {
		if err := p.runs.FailRun(ctx, run.ID, result.Stages[model.StageAnalysis].Error); err != nil {
			log.Error("failed to mark run failed", zap.Error(err))
		}
		return
	}

	if err := p.runs.CompleteRun(ctx, run.ID); err != nil {
		result.Errors = append(result.Errors, "complete: "+err.Error())
		return
	}
	result.Success = true
}

func (p *Pipeline) reanalyzeOne(ctx context.Context, canonicalURL string) error {
	for attempt := 0; attempt < 2; attempt++ {
		live, err := p.store.GetLiveItem(ctx, canonicalURL)
		if err != nil {
			return err
		}
		if live == nil {
			return eris.Errorf("no live item for %s", canonicalURL)
		}

		item := model.StagedItem{
			ID:          live.ID,
			Category:    live.Category,
			Title:       live.Title,
			Description: live.Description,
			URL:         live.URL,
			Source:      live.Source,
			PublishedAt: live.PublishedAt,
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Analysis.ItemTimeout())
		analysisResult, err := p.provider.Analyze(callCtx, item)
		cancel()
		if err != nil {
			return err
		}

		perspectives := make([]model.StagedPerspective, 0, len(analysisResult.Perspectives))
		for _, pr := range analysisResult.Perspectives {
			perspectives = append(perspectives, model.StagedPerspective{
				ItemID:    live.ID,
				Lean:      pr.Lean,
				Summary:   pr.Summary,
				Sentiment: pr.Sentiment,
				Evidence:  pr.Evidence,
			})
		}

		err = p.store.UpdateLiveAnalysis(ctx, canonicalURL, live.Version, analysisResult.NeutralSummary, perspectives)
		if errors.Is(err, store.ErrVersionConflict) {
			// A concurrent promotion or reanalysis won; refetch and retry once.
			continue
		}
		return err
	}
	return store.ErrVersionConflict
}
