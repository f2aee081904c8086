// Package analysis turns staged items into three-perspective sentiment
// results via an external model provider.
package analysis

import (
	"context"

	"github.com/omnidoxa/newsdesk/internal/model"
)

// Provider produces a sentiment analysis for one staged item.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, item model.StagedItem) (*model.AnalysisResult, error)
}

// FallbackResult builds the neutral result recorded when a provider call
// fails: sentiment 0 for all three leans, no evidence, summaries that say
// analysis is unavailable. Callers mark the stored perspectives as fallback.
func FallbackResult(item model.StagedItem) *model.AnalysisResult {
	result := &model.AnalysisResult{
		NeutralSummary: item.Description,
	}
	for _, lean := range model.Leans() {
		result.Perspectives = append(result.Perspectives, model.PerspectiveResult{
			Lean:      lean,
			Sentiment: 0,
			Summary:   "Perspective analysis unavailable for this story.",
		})
	}
	return result
}
