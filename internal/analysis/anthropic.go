package analysis

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/pkg/anthropic"
)

// AnthropicProvider analyzes items with a Claude model. It has no live
// search, so perspectives carry no evidence posts; it serves as a fallback
// when no xAI key is configured.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates the fallback analysis provider.
func NewAnthropicProvider(client anthropic.Client, model string) *AnthropicProvider {
	return &AnthropicProvider{client: client, model: model}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Analyze(ctx context.Context, item model.StagedItem) (*model.AnalysisResult, error) {
	temp := 0.2
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   2048,
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildPrompt(item, 0, false)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: anthropic call for item %s", item.ID)
	}

	result, err := parseResult(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: parse anthropic response for item %s", item.ID)
	}

	zap.L().Debug("analysis complete",
		zap.String("provider", "anthropic"),
		zap.String("item_id", item.ID),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return result, nil
}
