// Package registry loads the publisher trust registry and per-category item
// targets from Notion, with static defaults when no workspace is configured.
package registry

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/pkg/notion"
)

// LoadSources queries the Notion source registry database for all active
// publishers and returns an indexed SourceRegistry.
func LoadSources(ctx context.Context, client notion.Client, dbID string) (*model.SourceRegistry, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Active",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load sources")
	}

	var sources []model.Source
	for _, p := range pages {
		s, err := parseSourcePage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed source page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		sources = append(sources, s)
	}

	return model.NewSourceRegistry(sources), nil
}

func parseSourcePage(p notionapi.Page) (model.Source, error) {
	s := model.Source{
		ID: string(p.ID),
	}

	// Name (title)
	if prop, ok := p.Properties["Name"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			s.Name = plainText(tp.Title)
		}
	}

	// Domain (rich_text)
	if prop, ok := p.Properties["Domain"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			s.Domain = plainText(rtp.RichText)
		}
	}

	// Tier (select)
	if prop, ok := p.Properties["Tier"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			s.Tier = model.SourceTier(sp.Select.Name)
		}
	}

	if s.Name == "" {
		return s, eris.New("missing Name property")
	}

	return s, nil
}

func plainText(rts []notionapi.RichText) string {
	var out string
	for _, rt := range rts {
		out += rt.PlainText
	}
	return out
}

// DefaultSources is the static fallback registry used when no Notion token is
// configured.
func DefaultSources() *model.SourceRegistry {
	return model.NewSourceRegistry([]model.Source{
		{Name: "Reuters", Domain: "reuters.com", Tier: model.SourceTierTrusted},
		{Name: "Associated Press", Domain: "apnews.com", Tier: model.SourceTierTrusted},
		{Name: "BBC News", Domain: "bbc.com", Tier: model.SourceTierTrusted},
		{Name: "NPR", Domain: "npr.org", Tier: model.SourceTierTrusted},
		{Name: "Bloomberg", Domain: "bloomberg.com", Tier: model.SourceTierTrusted},
		{Name: "The New York Times", Domain: "nytimes.com", Tier: model.SourceTierKnown},
		{Name: "The Washington Post", Domain: "washingtonpost.com", Tier: model.SourceTierKnown},
		{Name: "The Wall Street Journal", Domain: "wsj.com", Tier: model.SourceTierKnown},
		{Name: "The Guardian", Domain: "theguardian.com", Tier: model.SourceTierKnown},
		{Name: "CNN", Domain: "cnn.com", Tier: model.SourceTierKnown},
		{Name: "Fox News", Domain: "foxnews.com", Tier: model.SourceTierKnown},
		{Name: "Politico", Domain: "politico.com", Tier: model.SourceTierKnown},
		{Name: "Axios", Domain: "axios.com", Tier: model.SourceTierKnown},
	})
}
