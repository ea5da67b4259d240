package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Semior001/enhancer/pkg/fallback"
	"github.com/samber/lo"
	"golang.org/x/exp/slog"
)

// MaxReferences is the number of search results used as references.
const MaxReferences = 2

// MockReferences returns the references used when search is not available.
func MockReferences() []string {
	return []string{
		"https://example.com/article1",
		"https://example.com/article2",
	}
}

// FinderParams defines parameters of the Finder.
type FinderParams struct {
	BaseURL  string // https://www.googleapis.com if empty
	APIKey   string
	EngineID string
}

// Finder looks for reference articles with Google Custom Search.
type Finder struct {
	log    *slog.Logger
	cl     *http.Client
	params FinderParams
}

// NewFinder creates new Finder.
func NewFinder(lg *slog.Logger, cl *http.Client, params FinderParams) *Finder {
	if params.BaseURL == "" {
		params.BaseURL = "https://www.googleapis.com"
	}
	params.BaseURL = strings.TrimSuffix(params.BaseURL, "/")

	return &Finder{log: lg, cl: cl, params: params}
}

// Search returns links of the top search results for the query.
// If search is not configured or fails, MockReferences are returned.
func (f *Finder) Search(ctx context.Context, query string) fallback.Result[[]string] {
	res := fallback.Attempt(ctx, func(ctx context.Context) ([]string, error) {
		return f.search(ctx, query)
	}, MockReferences)

	switch res.Outcome {
	case fallback.Unconfigured:
		f.log.InfoCtx(ctx, "search is not configured, using mock references")
	case fallback.Failed:
		f.log.WarnCtx(ctx, "search failed, using mock references",
			slog.String("query", query), slog.Any("err", res.Err))
	default:
		f.log.InfoCtx(ctx, "found references", slog.String("query", query), slog.Any("urls", res.Value))
	}

	return res
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

var errNoResults = errors.New("no results")

func (f *Finder) search(ctx context.Context, query string) ([]string, error) {
	if f.params.APIKey == "" || f.params.EngineID == "" {
		return nil, fallback.ErrNotConfigured
	}

	q := url.Values{}
	q.Set("key", f.params.APIKey)
	q.Set("cx", f.params.EngineID)
	q.Set("q", query)

	u := f.params.BaseURL + "/customsearch/v1?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.log.WarnCtx(ctx, "failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	var sr searchResponse
	if err = json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := lo.Filter(sr.Items, func(item searchItem, _ int) bool { return item.Link != "" })
	if len(items) == 0 {
		return nil, errNoResults
	}

	if len(items) > MaxReferences {
		items = items[:MaxReferences]
	}

	return lo.Map(items, func(item searchItem, _ int) string { return item.Link }), nil
}
