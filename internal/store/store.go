package store

import (
	"context"

	"github.com/omnidoxa/newsdesk/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Kind   model.RunKind   `json:"kind,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ItemFilter specifies criteria for listing staged items within a run.
type ItemFilter struct {
	Status   model.ItemStatus `json:"status,omitempty"`
	Category string           `json:"category,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// PromotionItem pairs a selected staged item with its staged analysis for the
// promotion transaction.
type PromotionItem struct {
	Item           model.StagedItem
	NeutralSummary string
	Perspectives   []model.StagedPerspective
}

// PromotionCounts reports rows written by a promotion transaction.
type PromotionCounts struct {
	Items        int `json:"items"`
	Perspectives int `json:"perspectives"`
	Evidence     int `json:"evidence"`
}

// Store defines the persistence interface for the staging-to-live pipeline.
// Staged tables are partitioned by run id; live tables are keyed by natural
// identity so promotion UPSERTs are idempotent.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRunStage(ctx context.Context, runID string, status model.RunStatus, stage string) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error

	// Lock. TryAcquireLock inserts the singleton row and reports false on
	// conflict without error; ReleaseLock deletes only when owned by runID.
	TryAcquireLock(ctx context.Context, runID string) (bool, error)
	GetLock(ctx context.Context) (*model.PipelineLock, error)
	ReleaseLock(ctx context.Context, runID string) error
	ForceReleaseLock(ctx context.Context) error

	// Category progress
	InitCategoryProgress(ctx context.Context, runID string, targets map[string]int) error
	ListCategoryProgress(ctx context.Context, runID string) ([]model.CategoryProgress, error)
	UpdateCategoryProgress(ctx context.Context, runID, category string, currentCount int, stage model.CategoryStage) error
	IncrementPullAttempts(ctx context.Context, runID, category string) (int, error)

	// Staged items
	InsertStagedItems(ctx context.Context, items []model.StagedItem) (int, error)
	ListStagedItems(ctx context.Context, runID string, filter ItemFilter) ([]model.StagedItem, error)
	UpdateItemStatus(ctx context.Context, itemIDs []string, status model.ItemStatus, reason string) error
	CountItemsByStatus(ctx context.Context, runID string) (map[model.ItemStatus]int, error)

	// Analysis jobs
	CreateAnalysisJobs(ctx context.Context, jobs []model.AnalysisJob) error
	ListAnalysisJobs(ctx context.Context, runID string, status model.JobStatus) ([]model.AnalysisJob, error)
	MarkJobRunning(ctx context.Context, jobID string) error
	MarkJobComplete(ctx context.Context, jobID string) error
	MarkJobFailed(ctx context.Context, jobID, errMsg string) error
	CountJobsByStatus(ctx context.Context, runID string) (map[model.JobStatus]int, error)
	ListJobErrors(ctx context.Context, runID string) ([]string, error)

	// Staged analysis output
	InsertStagedAnalysis(ctx context.Context, itemID, neutralSummary string, perspectives []model.StagedPerspective) error
	ListStagedPerspectives(ctx context.Context, itemID string) (string, []model.StagedPerspective, error)

	// Promotion. PromoteItems runs as a single transaction: every UPSERT
	// commits together or none do.
	PromoteItems(ctx context.Context, items []PromotionItem) (PromotionCounts, error)
	CountLiveByURLs(ctx context.Context, canonicalURLs []string) (int, error)
	GetLiveItem(ctx context.Context, canonicalURL string) (*model.LiveItem, error)
	UpdateLiveAnalysis(ctx context.Context, canonicalURL string, expectedVersion int64, neutralSummary string, perspectives []model.StagedPerspective) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrVersionConflict is returned by UpdateLiveAnalysis when the live item's
// version moved under the caller (a concurrent promotion or re-analysis won).
var ErrVersionConflict = errVersionConflict{}

type errVersionConflict struct{}

func (errVersionConflict) Error() string { return "live item version conflict" }
