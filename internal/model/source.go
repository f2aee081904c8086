package model

import "strings"

// SourceTier classifies how much editorial trust a publisher earns during
// selection scoring.
type SourceTier string

const (
	SourceTierTrusted SourceTier = "trusted"
	SourceTierKnown   SourceTier = "known"
)

// Trust scores applied by the selection ranker per tier.
const (
	TrustScoreTrusted = 50
	TrustScoreKnown   = 20
)

// Source is one publisher entry from the source registry.
type Source struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Domain string     `json:"domain"`
	Tier   SourceTier `json:"tier"`
}

// SourceRegistry indexes sources by lowercased name and domain for trust
// lookups during selection.
type SourceRegistry struct {
	byName   map[string]Source
	byDomain map[string]Source
}

// NewSourceRegistry builds a registry from a source list.
func NewSourceRegistry(sources []Source) *SourceRegistry {
	r := &SourceRegistry{
		byName:   make(map[string]Source, len(sources)),
		byDomain: make(map[string]Source, len(sources)),
	}
	for _, s := range sources {
		if s.Name != "" {
			r.byName[strings.ToLower(s.Name)] = s
		}
		if s.Domain != "" {
			r.byDomain[normalizeDomain(s.Domain)] = s
		}
	}
	return r
}

// Len returns the number of distinct names indexed.
func (r *SourceRegistry) Len() int {
	return len(r.byName)
}

// normalizeDomain lowercases a host and drops the www prefix so that
// registry entries match regardless of how the article URL spells it.
func normalizeDomain(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// TrustScore returns the scoring bonus for a publisher, matching by source
// name first and host second. Unknown publishers score zero.
func (r *SourceRegistry) TrustScore(sourceName, host string) int {
	s, ok := r.byName[strings.ToLower(sourceName)]
	if !ok {
		s, ok = r.byDomain[normalizeDomain(host)]
	}
	if !ok {
		return 0
	}
	switch s.Tier {
	case SourceTierTrusted:
		return TrustScoreTrusted
	case SourceTierKnown:
		return TrustScoreKnown
	}
	return 0
}
