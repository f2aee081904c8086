package registry

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/pkg/notion"
)

// LoadCategoryTargets queries the Notion category database for enabled
// categories and their per-run item targets.
func LoadCategoryTargets(ctx context.Context, client notion.Client, dbID string) (map[string]int, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Enabled",
			Checkbox: &notionapi.CheckboxFilterCondition{
				Equals: true,
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load category targets")
	}

	targets := make(map[string]int, len(pages))
	for _, p := range pages {
		name, target := parseCategoryPage(p)
		if name == "" || target <= 0 {
			zap.L().Warn("registry: skipping malformed category page",
				zap.String("page_id", string(p.ID)),
			)
			continue
		}
		targets[name] = target
	}

	if len(targets) == 0 {
		return nil, eris.New("registry: no enabled categories")
	}
	return targets, nil
}

func parseCategoryPage(p notionapi.Page) (string, int) {
	var name string
	var target int

	if prop, ok := p.Properties["Name"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			name = plainText(tp.Title)
		}
	}
	if prop, ok := p.Properties["Target"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			target = int(np.Number)
		}
	}
	return name, target
}

// StaticTargets builds a uniform target map for the configured categories,
// used when no Notion workspace is configured.
func StaticTargets(categories []string, perCategory int) map[string]int {
	targets := make(map[string]int, len(categories))
	for _, c := range categories {
		targets[c] = perCategory
	}
	return targets
}
