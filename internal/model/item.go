package model

import "time"

// ItemStatus tracks a staged item through dedup and selection.
type ItemStatus string

const (
	ItemStatusStaged       ItemStatus = "staged"
	ItemStatusDeduplicated ItemStatus = "deduplicated"
	ItemStatusSelected     ItemStatus = "selected"
	ItemStatusRejected     ItemStatus = "rejected"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusStaged, ItemStatusDeduplicated, ItemStatusSelected, ItemStatusRejected:
		return true
	}
	return false
}

// Rejection reasons, tagged with the dedup layer (or selection step) that
// produced them.
const (
	RejectDuplicateURL         = "duplicate_url"
	RejectDuplicateFingerprint = "duplicate_fingerprint"
	RejectDuplicateTitle       = "duplicate_title"
	RejectDuplicateCrossCat    = "duplicate_cross_category"
	RejectSurplus              = "surplus"
)

// StagedItem is a candidate content record scoped to one run. Staged rows are
// namespaced by run id and are never mutated after promotion.
type StagedItem struct {
	ID              string     `json:"id"`
	RunID           string     `json:"run_id"`
	Category        string     `json:"category"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	URL             string     `json:"url"`
	Source          string     `json:"source"`
	NormalizedTitle string     `json:"normalized_title"`
	CanonicalURL    string     `json:"canonical_url"`
	Fingerprint     string     `json:"fingerprint"`
	PublishedAt     time.Time  `json:"published_at"`
	Status          ItemStatus `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CategoryStage tracks a category's ingestion state within a run.
type CategoryStage string

const (
	CategoryStagePending  CategoryStage = "pending"
	CategoryStageFetching CategoryStage = "fetching"
	CategoryStageReady    CategoryStage = "ready"
	CategoryStageComplete CategoryStage = "complete"
	CategoryStageFailed   CategoryStage = "failed"
)

// Valid reports whether s is a known category stage.
func (s CategoryStage) Valid() bool {
	switch s {
	case CategoryStagePending, CategoryStageFetching, CategoryStageReady,
		CategoryStageComplete, CategoryStageFailed:
		return true
	}
	return false
}

// CategoryProgress tracks per-category counts within a run.
type CategoryProgress struct {
	RunID        string        `json:"run_id"`
	Category     string        `json:"category"`
	TargetCount  int           `json:"target_count"`
	CurrentCount int           `json:"current_count"`
	PullAttempts int           `json:"pull_attempts"`
	Stage        CategoryStage `json:"stage"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Short reports whether the category is below its target after selection.
func (p CategoryProgress) Short() bool {
	return p.CurrentCount < p.TargetCount
}
