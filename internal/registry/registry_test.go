package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeNotion returns canned pages for any query.
type fakeNotion struct {
	pages []notionapi.Page
	err   error
}

func (f *fakeNotion) QueryDatabase(_ context.Context, _ string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &notionapi.DatabaseQueryResponse{Results: f.pages}, nil
}

func sourcePage(id, name, domain, tier string) notionapi.Page {
	props := notionapi.Properties{}
	if name != "" {
		props["Name"] = &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: name}}}
	}
	if domain != "" {
		props["Domain"] = &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: domain}}}
	}
	if tier != "" {
		props["Tier"] = &notionapi.SelectProperty{Select: notionapi.Option{Name: tier}}
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func TestLoadSources(t *testing.T) {
	client := &fakeNotion{pages: []notionapi.Page{
		sourcePage("p1", "Reuters", "reuters.com", "trusted"),
		sourcePage("p2", "Politico", "politico.com", "known"),
		sourcePage("p3", "", "broken.example.com", "known"), // no Name, skipped
	}}

	reg, err := LoadSources(context.Background(), client, "db-id")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, model.TrustScoreTrusted, reg.TrustScore("Reuters", ""))
	assert.Equal(t, model.TrustScoreKnown, reg.TrustScore("", "politico.com"))
	assert.Zero(t, reg.TrustScore("Broken", "broken.example.com"))
}

func TestLoadSourcesQueryError(t *testing.T) {
	client := &fakeNotion{err: errors.New("notion down")}
	_, err := LoadSources(context.Background(), client, "db-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load sources")
}

func categoryPage(id, name string, target float64) notionapi.Page {
	props := notionapi.Properties{}
	if name != "" {
		props["Name"] = &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: name}}}
	}
	props["Target"] = &notionapi.NumberProperty{Number: target}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func TestLoadCategoryTargets(t *testing.T) {
	client := &fakeNotion{pages: []notionapi.Page{
		categoryPage("c1", "politics", 10),
		categoryPage("c2", "business", 15),
		categoryPage("c3", "sports", 0), // non-positive target, skipped
		categoryPage("c4", "", 10),      // no name, skipped
	}}

	targets, err := LoadCategoryTargets(context.Background(), client, "db-id")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"politics": 10, "business": 15}, targets)
}

func TestLoadCategoryTargetsAllMalformed(t *testing.T) {
	client := &fakeNotion{pages: []notionapi.Page{categoryPage("c1", "", 0)}}
	_, err := LoadCategoryTargets(context.Background(), client, "db-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled categories")
}

func TestDefaultSources(t *testing.T) {
	reg := DefaultSources()
	assert.Equal(t, model.TrustScoreTrusted, reg.TrustScore("Reuters", ""))
	assert.Equal(t, model.TrustScoreTrusted, reg.TrustScore("", "apnews.com"))
	assert.Equal(t, model.TrustScoreKnown, reg.TrustScore("Politico", ""))
	assert.Zero(t, reg.TrustScore("Random Blog", "random.example.com"))
}

func TestStaticTargets(t *testing.T) {
	targets := StaticTargets([]string{"politics", "business"}, 10)
	assert.Equal(t, map[string]int{"politics": 10, "business": 10}, targets)
}
