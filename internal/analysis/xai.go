package analysis

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/resilience"
	"github.com/omnidoxa/newsdesk/pkg/xai"
)

// XAIProvider analyzes items with an xAI model using live X search, so
// perspectives come with real posts as evidence.
type XAIProvider struct {
	client      xai.Client
	model       string
	maxEvidence int
	retry       resilience.RetryConfig
}

// NewXAIProvider creates the primary analysis provider.
func NewXAIProvider(client xai.Client, model string, maxEvidence int) *XAIProvider {
	if maxEvidence <= 0 {
		maxEvidence = 5
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("xai", "chat_completion")
	return &XAIProvider{
		client:      client,
		model:       model,
		maxEvidence: maxEvidence,
		retry:       cfg,
	}
}

func (p *XAIProvider) Name() string { return "xai" }

func (p *XAIProvider) Analyze(ctx context.Context, item model.StagedItem) (*model.AnalysisResult, error) {
	temp := 0.2
	req := xai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: &temp,
		Messages: []xai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(item, p.maxEvidence, true)},
		},
		SearchParameters: &xai.SearchParameters{
			Mode:             "on",
			Sources:          []xai.SearchSource{{Type: "x"}},
			MaxSearchResults: p.maxEvidence * 4,
			ReturnCitations:  true,
		},
	}

	resp, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*xai.ChatCompletionResponse, error) {
		return p.client.ChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: xai call for item %s", item.ID)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("analysis: xai returned no choices for item %s", item.ID)
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: parse xai response for item %s", item.ID)
	}

	zap.L().Debug("analysis complete",
		zap.String("provider", "xai"),
		zap.String("item_id", item.ID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return result, nil
}
