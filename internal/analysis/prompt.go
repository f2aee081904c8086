package analysis

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/omnidoxa/newsdesk/internal/model"
)

// wirePayload is the JSON shape providers are prompted to return.
type wirePayload struct {
	Left           wirePerspective `json:"left"`
	Center         wirePerspective `json:"center"`
	Right          wirePerspective `json:"right"`
	NeutralSummary string          `json:"neutral_summary"`
}

type wirePerspective struct {
	Summary   string     `json:"summary"`
	Sentiment float64    `json:"sentiment"`
	Posts     []wirePost `json:"posts"`
}

type wirePost struct {
	Account  string `json:"account"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	Likes    int    `json:"likes"`
	Reposts  int    `json:"reposts"`
	Verified bool   `json:"verified"`
}

const systemPrompt = `You are a media analyst. You study how a news story is being
discussed across the political spectrum and report the sentiment of each side.
Respond with a single JSON object and nothing else.`

func buildPrompt(item model.StagedItem, maxPosts int, withSearch bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze reactions to this news story.\n\nHeadline: %s\n", item.Title)
	if item.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", item.Description)
	}
	fmt.Fprintf(&b, "Category: %s\nPublished: %s\n\n", item.Category, item.PublishedAt.Format(time.RFC3339))

	b.WriteString(`For each of the left, center, and right perspectives, provide:
- "summary": 2-3 sentences describing how that side views the story
- "sentiment": a score from -1.0 (strongly negative) to 1.0 (strongly positive)
`)
	if withSearch {
		fmt.Fprintf(&b, `- "posts": up to %d real posts from X that exemplify that perspective, each with "account" (handle), "text" (verbatim), and "url". Only include posts you actually found; never invent posts.
`, maxPosts)
	} else {
		b.WriteString(`- "posts": an empty array
`)
	}
	b.WriteString(`
Also provide "neutral_summary": 2-3 factual sentences with no editorializing.

Return exactly this JSON shape:
{"left": {"summary": "...", "sentiment": 0.0, "posts": []}, "center": {...}, "right": {...}, "neutral_summary": "..."}`)
	return b.String()
}

// parseResult decodes a provider's text response into an AnalysisResult.
// Markdown code fences around the JSON are tolerated.
func parseResult(text string) (*model.AnalysisResult, error) {
	raw := stripFences(text)

	var payload wirePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, eris.Wrap(err, "analysis: decode provider response")
	}

	result := &model.AnalysisResult{
		NeutralSummary: strings.TrimSpace(payload.NeutralSummary),
		Perspectives: []model.PerspectiveResult{
			toPerspective(model.LeanLeft, payload.Left),
			toPerspective(model.LeanCenter, payload.Center),
			toPerspective(model.LeanRight, payload.Right),
		},
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func toPerspective(lean model.Lean, w wirePerspective) model.PerspectiveResult {
	p := model.PerspectiveResult{
		Lean:      lean,
		Sentiment: clampSentiment(w.Sentiment),
		Summary:   strings.TrimSpace(w.Summary),
	}
	for _, post := range w.Posts {
		id := postID(post.URL)
		if id == "" || post.Text == "" {
			continue
		}
		p.Evidence = append(p.Evidence, model.EvidencePost{
			Platform:   "x",
			PlatformID: id,
			Author:     strings.TrimPrefix(post.Account, "@"),
			Text:       post.Text,
			URL:        post.URL,
			Likes:      post.Likes,
			Reposts:    post.Reposts,
			Verified:   post.Verified,
		})
	}
	return p
}

func clampSentiment(s float64) float64 {
	if s < -1 {
		return -1
	}
	if s > 1 {
		return 1
	}
	return s
}

// postID extracts the status id from a post URL, e.g.
// https://x.com/user/status/12345 -> "12345".
func postID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return last
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
