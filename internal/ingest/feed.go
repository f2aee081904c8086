package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/resilience"
)

// FeedOptions configures the HTTP feed adapter.
type FeedOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FeedAdapter pulls candidates from a headlines JSON API
// (GET {base}/top-headlines?category=...&pageSize=N, or q=... for keyword
// searches).
type FeedAdapter struct {
	opts  FeedOptions
	http  *http.Client
	retry resilience.RetryConfig
}

// NewFeedAdapter creates the HTTP feed adapter.
func NewFeedAdapter(opts FeedOptions) *FeedAdapter {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("feed", "pull")
	return &FeedAdapter{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: cfg,
	}
}

func (a *FeedAdapter) Name() string { return "feed" }

// feedResponse is the upstream headline list shape.
type feedResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

func (a *FeedAdapter) Pull(ctx context.Context, req PullRequest) ([]Candidate, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(req.Limit))
	if req.Keyword != "" {
		q.Set("q", req.Keyword)
	} else {
		q.Set("category", req.Category)
	}

	endpoint := a.opts.BaseURL + "/top-headlines?" + q.Encode()

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*feedResponse, error) {
		return a.fetch(ctx, endpoint)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: pull feed for %s", req.Category+req.Keyword)
	}

	candidates := make([]Candidate, 0, len(resp.Articles))
	for _, art := range resp.Articles {
		if art.Title == "" || art.URL == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:       art.Title,
			Description: art.Description,
			URL:         art.URL,
			Source:      art.Source.Name,
			PublishedAt: art.PublishedAt,
		})
	}

	zap.L().Debug("feed pull complete",
		zap.String("category", req.Category),
		zap.String("keyword", req.Keyword),
		zap.Int("requested", req.Limit),
		zap.Int("returned", len(candidates)),
	)
	return candidates, nil
}

func (a *FeedAdapter) fetch(ctx context.Context, endpoint string) (*feedResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create feed request")
	}
	httpReq.Header.Set("X-Api-Key", a.opts.APIKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: send feed request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read feed response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ingest: feed status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var decoded feedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, eris.Wrap(err, "ingest: decode feed response")
	}
	return &decoded, nil
}
