package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Lean is one of the three fixed perspective categories.
type Lean string

const (
	LeanLeft   Lean = "left"
	LeanCenter Lean = "center"
	LeanRight  Lean = "right"
)

// Leans returns the three leans in canonical order.
func Leans() []Lean {
	return []Lean{LeanLeft, LeanCenter, LeanRight}
}

// Valid reports whether l is a known lean.
func (l Lean) Valid() bool {
	switch l {
	case LeanLeft, LeanCenter, LeanRight:
		return true
	}
	return false
}

// JobStatus tracks the lifecycle of one analysis call.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
	JobStatusSkipped  JobStatus = "skipped"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusComplete, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether the job will not be picked up again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// AnalysisJob tracks one (run, item, kind) external analysis call.
type AnalysisJob struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	ItemID      string     `json:"item_id"`
	Kind        string     `json:"kind"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AnalysisJobKindSentiment is the only analysis kind currently produced.
const AnalysisJobKindSentiment = "sentiment"

// EvidencePost is one evidentiary social post backing a perspective.
type EvidencePost struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	PlatformID string    `json:"platform_id"`
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	URL        string    `json:"url"`
	Likes      int       `json:"likes"`
	Reposts    int       `json:"reposts"`
	Verified   bool      `json:"verified"`
	PostedAt   time.Time `json:"posted_at"`
}

// StagedPerspective is the analysis output for one item and one lean, staged
// alongside the item until promotion copies it into the live store.
type StagedPerspective struct {
	ID        string         `json:"id"`
	ItemID    string         `json:"item_id"`
	Lean      Lean           `json:"lean"`
	Summary   string         `json:"summary"`
	Sentiment float64        `json:"sentiment"`
	Fallback  bool           `json:"fallback"`
	Evidence  []EvidencePost `json:"evidence,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PerspectiveResult is one lean's share of a provider response.
type PerspectiveResult struct {
	Lean      Lean           `json:"lean"`
	Sentiment float64        `json:"sentiment"`
	Summary   string         `json:"summary"`
	Evidence  []EvidencePost `json:"evidence,omitempty"`
}

// AnalysisResult is the full provider output for one item: a neutral summary
// plus exactly three lean perspectives.
type AnalysisResult struct {
	NeutralSummary string              `json:"neutral_summary"`
	Perspectives   []PerspectiveResult `json:"perspectives"`
}

// Validate enforces the provider contract: exactly three distinct leans with
// sentiment scores in [-1, 1].
func (r AnalysisResult) Validate() error {
	if len(r.Perspectives) != 3 {
		return eris.Errorf("analysis result: expected 3 perspectives, got %d", len(r.Perspectives))
	}
	seen := make(map[Lean]bool, 3)
	for _, p := range r.Perspectives {
		if !p.Lean.Valid() {
			return eris.Errorf("analysis result: unknown lean %q", p.Lean)
		}
		if seen[p.Lean] {
			return eris.Errorf("analysis result: duplicate lean %q", p.Lean)
		}
		seen[p.Lean] = true
		if p.Sentiment < -1 || p.Sentiment > 1 {
			return eris.Errorf("analysis result: sentiment %.2f out of range for %s", p.Sentiment, p.Lean)
		}
	}
	return nil
}
