package model

import "time"

// LiveItem is a canonical, UI-facing content record. Keyed by canonical URL so
// promotion is idempotent. Version supports optimistic concurrency for the
// re-analysis path, which writes live rows without holding the pipeline lock.
type LiveItem struct {
	ID             string    `json:"id"`
	CanonicalURL   string    `json:"canonical_url"`
	Category       string    `json:"category"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	URL            string    `json:"url"`
	Source         string    `json:"source"`
	NeutralSummary string    `json:"neutral_summary"`
	PublishedAt    time.Time `json:"published_at"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LivePerspective is the canonical perspective record, keyed by (item, lean).
type LivePerspective struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Lean      Lean      `json:"lean"`
	Summary   string    `json:"summary"`
	Sentiment float64   `json:"sentiment"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LiveEvidence is the canonical evidence record, keyed by (platform, platform_id).
type LiveEvidence struct {
	ID            string    `json:"id"`
	PerspectiveID string    `json:"perspective_id"`
	Platform      string    `json:"platform"`
	PlatformID    string    `json:"platform_id"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	URL           string    `json:"url"`
	Likes         int       `json:"likes"`
	Reposts       int       `json:"reposts"`
	Verified      bool      `json:"verified"`
	PostedAt      time.Time `json:"posted_at"`
}
