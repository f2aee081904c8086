// Package pipeline implements the staging-to-live run: lifecycle and
// locking, deduplication, selection, analysis orchestration, and promotion.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// ErrLockHeld is returned by CreateRun when another new-data run holds the
// pipeline lock. It signals "busy, try again later", not a fault.
var ErrLockHeld = errLockHeld{}

type errLockHeld struct{}

func (errLockHeld) Error() string { return "pipeline lock held by another run" }

// RunManager owns run lifecycle and the singleton execution lock. The lock is
// never leaked: every terminal transition releases it, redundantly if needed.
type RunManager struct {
	store         store.Store
	lockStaleness time.Duration
	now           func() time.Time
}

// NewRunManager creates a RunManager. lockStaleness bounds how long a crashed
// run's lock survives before another caller may reclaim it.
func NewRunManager(st store.Store, lockStaleness time.Duration) *RunManager {
	if lockStaleness <= 0 {
		lockStaleness = 10 * time.Minute
	}
	return &RunManager{
		store:         st,
		lockStaleness: lockStaleness,
		now:           time.Now,
	}
}

// CreateRun inserts a run in state running and, for new-data kinds, acquires
// the pipeline lock. On contention the run is marked cancelled for audit and
// ErrLockHeld is returned alongside the cancelled run.
func (m *RunManager) CreateRun(ctx context.Context, kind model.RunKind, trigger string, cfg model.RunConfig) (*model.Run, error) {
	if err := cfg.Validate(kind); err != nil {
		return nil, err
	}

	run := &model.Run{
		Kind:    kind,
		Trigger: trigger,
		Config:  cfg,
		Status:  model.RunStatusRunning,
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if !kind.NewData() {
		return run, nil
	}

	acquired, err := m.AcquireLock(ctx, run.ID)
	if err != nil {
		if ferr := m.store.FinishRun(ctx, run.ID, model.RunStatusCancelled, err.Error()); ferr != nil {
			zap.L().Warn("failed to cancel run after lock error", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return run, err
	}
	if !acquired {
		run.Status = model.RunStatusCancelled
		if ferr := m.store.FinishRun(ctx, run.ID, model.RunStatusCancelled, ErrLockHeld.Error()); ferr != nil {
			zap.L().Warn("failed to cancel contended run", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return run, ErrLockHeld
	}
	return run, nil
}

// AcquireLock tries to take the singleton lock for runID. On conflict it
// inspects the holder's age: a lock older than the staleness threshold is
// force-released and acquisition retried exactly once. Contention returns
// (false, nil), not an error.
func (m *RunManager) AcquireLock(ctx context.Context, runID string) (bool, error) {
	acquired, err := m.store.TryAcquireLock(ctx, runID)
	if err != nil || acquired {
		return acquired, err
	}

	lock, err := m.store.GetLock(ctx)
	if err != nil {
		return false, err
	}
	if lock == nil || lock.Age(m.now()) <= m.lockStaleness {
		return false, nil
	}

	zap.L().Warn("reclaiming stale pipeline lock",
		zap.String("held_by", lock.RunID),
		zap.Duration("age", lock.Age(m.now())),
		zap.String("claimant", runID),
	)
	if err := m.store.ForceReleaseLock(ctx); err != nil {
		return false, err
	}

	// One retry only; two racing claimants must not livelock here.
	return m.store.TryAcquireLock(ctx, runID)
}

// SetStage records the run's status and current stage label.
func (m *RunManager) SetStage(ctx context.Context, runID string, status model.RunStatus, stage string) error {
	return m.store.UpdateRunStage(ctx, runID, status, stage)
}

// CompleteRun marks the run complete and releases the lock.
func (m *RunManager) CompleteRun(ctx context.Context, runID string) error {
	return m.finish(ctx, runID, model.RunStatusComplete, "")
}

// FailRun marks the run failed with errMsg and releases the lock.
func (m *RunManager) FailRun(ctx context.Context, runID, errMsg string) error {
	return m.finish(ctx, runID, model.RunStatusFailed, errMsg)
}

// CancelRun marks the run cancelled and releases the lock. In-flight external
// calls are not aborted; their own timeouts are the only hard cutoff.
func (m *RunManager) CancelRun(ctx context.Context, runID string) error {
	return m.finish(ctx, runID, model.RunStatusCancelled, "cancelled by operator")
}

func (m *RunManager) finish(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	finishErr := m.store.FinishRun(ctx, runID, status, errMsg)

	// Release even when FinishRun failed, and even when this run never held
	// the lock; ReleaseLock is owner-scoped and a no-op otherwise.
	if err := m.store.ReleaseLock(ctx, runID); err != nil {
		zap.L().Error("failed to release pipeline lock",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		if finishErr == nil {
			return err
		}
	}
	return finishErr
}

// RunStatusReport is the derived status view for one run.
type RunStatusReport struct {
	Run        model.Run                `json:"run"`
	Progress   int                      `json:"progress"` // 0-100
	Categories []model.CategoryProgress `json:"categories,omitempty"`
	Jobs       map[model.JobStatus]int  `json:"jobs,omitempty"`
	Items      map[model.ItemStatus]int `json:"items,omitempty"`
	Errors     []string                 `json:"errors,omitempty"`
}

// GetRunStatus returns run metadata plus a derived progress percentage
// (ingestion 0-30, analysis 30-80, promotion 80-100) and the aggregated
// error list (run-level error plus failed-job errors).
func (m *RunManager) GetRunStatus(ctx context.Context, runID string) (*RunStatusReport, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &RunStatusReport{Run: *run}

	report.Categories, err = m.store.ListCategoryProgress(ctx, runID)
	if err != nil {
		return nil, err
	}
	report.Jobs, err = m.store.CountJobsByStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	report.Items, err = m.store.CountItemsByStatus(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Error != "" {
		report.Errors = append(report.Errors, run.Error)
	}
	jobErrors, err := m.store.ListJobErrors(ctx, runID)
	if err != nil {
		return nil, err
	}
	report.Errors = append(report.Errors, jobErrors...)

	report.Progress = deriveProgress(run, report.Categories, report.Jobs)
	return report, nil
}

func deriveProgress(run *model.Run, categories []model.CategoryProgress, jobs map[model.JobStatus]int) int {
	if run.Status == model.RunStatusComplete {
		return 100
	}

	// Ingestion share: fraction of categories past fetching, scaled to 0-30.
	progress := 0
	if len(categories) > 0 {
		done := 0
		for _, c := range categories {
			switch c.Stage {
			case model.CategoryStageReady, model.CategoryStageComplete, model.CategoryStageFailed:
				done++
			}
		}
		progress = 30 * done / len(categories)
	}

	// Analysis share: fraction of terminal jobs, scaled to 30-80.
	totalJobs := 0
	terminalJobs := 0
	for status, n := range jobs {
		totalJobs += n
		if status.Terminal() {
			terminalJobs += n
		}
	}
	if totalJobs > 0 {
		progress = 30 + 50*terminalJobs/totalJobs
	}

	if run.Status == model.RunStatusPromoting {
		progress = 90
	}
	return progress
}

// ForceUnlock removes the lock regardless of owner. Operator escape hatch.
func (m *RunManager) ForceUnlock(ctx context.Context) error {
	return eris.Wrap(m.store.ForceReleaseLock(ctx), "pipeline: force unlock")
}
