// Package ingest pulls candidate articles from upstream feeds and stages
// them, normalized, into the run's staging tables.
package ingest

import (
	"context"
	"time"
)

// Candidate is one article as returned by an upstream feed, before
// normalization and staging.
type Candidate struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// PullRequest asks an adapter for candidates. Exactly one of Category or
// Keyword is set. Limit is the pool size (target times the pool multiplier);
// adapters may return fewer. Exclude holds canonical URLs already staged or
// live, which adapters should skip when they can filter server-side.
type PullRequest struct {
	Category string
	Keyword  string
	Limit    int
	Exclude  map[string]bool
}

// Adapter fetches article candidates from one upstream.
type Adapter interface {
	Name() string
	Pull(ctx context.Context, req PullRequest) ([]Candidate, error)
}
