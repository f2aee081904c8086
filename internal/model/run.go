package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// RunKind identifies what a pipeline run does.
type RunKind string

const (
	RunKindFullRefresh     RunKind = "full-refresh"
	RunKindCategoryRefresh RunKind = "category-refresh"
	RunKindKeywordSearch   RunKind = "keyword-search"
	RunKindReanalyze       RunKind = "reanalyze"
)

// Valid reports whether k is a known run kind.
func (k RunKind) Valid() bool {
	switch k {
	case RunKindFullRefresh, RunKindCategoryRefresh, RunKindKeywordSearch, RunKindReanalyze:
		return true
	}
	return false
}

// NewData reports whether this kind stages new data and therefore needs the
// singleton pipeline lock. Reanalyze writes straight to live rows and bypasses it.
func (k RunKind) NewData() bool {
	return k != RunKindReanalyze
}

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusAnalyzing RunStatus = "analyzing"
	RunStatusPromoting RunStatus = "promoting"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusAnalyzing, RunStatusPromoting,
		RunStatusComplete, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusComplete, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the run may move from s to next. The nominal
// progression is running → analyzing → promoting → complete; short run kinds
// (reanalyze) complete without passing through every stage, so any terminal
// status is reachable from any non-terminal one. Terminal states admit no
// further transitions.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case RunStatusComplete, RunStatusFailed, RunStatusCancelled:
		return true
	case RunStatusAnalyzing:
		return s == RunStatusRunning
	case RunStatusPromoting:
		return s == RunStatusRunning || s == RunStatusAnalyzing
	}
	return false
}

// Stage labels recorded on the run while the orchestrator advances through it.
const (
	StageIngestion     = "ingestion"
	StageDeduplication = "deduplication"
	StageValidation    = "validation"
	StageAnalysis      = "analysis"
	StagePromotion     = "promotion"
)

// RunConfig is a tagged union: exactly one variant is populated, matching the
// run's kind. Stored as JSON; decoded into this struct immediately after read.
type RunConfig struct {
	FullRefresh     *FullRefreshConfig     `json:"full_refresh,omitempty"`
	CategoryRefresh *CategoryRefreshConfig `json:"category_refresh,omitempty"`
	KeywordSearch   *KeywordSearchConfig   `json:"keyword_search,omitempty"`
	Reanalyze       *ReanalyzeConfig       `json:"reanalyze,omitempty"`
}

// FullRefreshConfig configures a full-refresh run. Targets optionally
// overrides TargetPerCategory per category (registry-driven runs).
type FullRefreshConfig struct {
	Categories        []string       `json:"categories"`
	TargetPerCategory int            `json:"target_per_category"`
	Targets           map[string]int `json:"targets,omitempty"`
	PoolSize          int            `json:"pool_size"`
}

// CategoryRefreshConfig configures a single-category refresh.
type CategoryRefreshConfig struct {
	Category    string `json:"category"`
	TargetCount int    `json:"target_count"`
	PoolSize    int    `json:"pool_size"`
}

// KeywordSearchConfig configures a keyword-search run.
type KeywordSearchConfig struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
	MaxItems int    `json:"max_items"`
}

// ReanalyzeConfig configures a re-analysis run over already-live items.
type ReanalyzeConfig struct {
	CanonicalURLs []string `json:"canonical_urls"`
}

// Validate checks that the variant matching kind (and only that variant) is set.
func (c RunConfig) Validate(kind RunKind) error {
	set := 0
	if c.FullRefresh != nil {
		set++
	}
	if c.CategoryRefresh != nil {
		set++
	}
	if c.KeywordSearch != nil {
		set++
	}
	if c.Reanalyze != nil {
		set++
	}
	if set != 1 {
		return eris.Errorf("run config: expected exactly one variant, got %d", set)
	}

	switch kind {
	case RunKindFullRefresh:
		if c.FullRefresh == nil {
			return eris.New("run config: full-refresh variant required")
		}
		if len(c.FullRefresh.Categories) == 0 {
			return eris.New("run config: full-refresh requires at least one category")
		}
	case RunKindCategoryRefresh:
		if c.CategoryRefresh == nil {
			return eris.New("run config: category-refresh variant required")
		}
		if c.CategoryRefresh.Category == "" {
			return eris.New("run config: category-refresh requires a category")
		}
	case RunKindKeywordSearch:
		if c.KeywordSearch == nil {
			return eris.New("run config: keyword-search variant required")
		}
		if c.KeywordSearch.Keyword == "" {
			return eris.New("run config: keyword-search requires a keyword")
		}
		if c.KeywordSearch.MaxItems <= 0 {
			return eris.New("run config: keyword-search requires a positive max_items")
		}
	case RunKindReanalyze:
		if c.Reanalyze == nil {
			return eris.New("run config: reanalyze variant required")
		}
		if len(c.Reanalyze.CanonicalURLs) == 0 {
			return eris.New("run config: reanalyze requires at least one url")
		}
	default:
		return eris.Errorf("run config: unknown kind %q", kind)
	}
	return nil
}

// Run represents one pipeline execution. Runs are retained for audit and never
// deleted by normal operation.
type Run struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	Trigger     string     `json:"trigger"`
	Config      RunConfig  `json:"config"`
	Status      RunStatus  `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PipelineLock is the singleton row granting exclusive new-data execution
// rights. At most one row exists at any time.
type PipelineLock struct {
	RunID      string    `json:"run_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Age returns how long the lock has been held as of now.
func (l PipelineLock) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}
