package enhancer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Semior001/enhancer/pkg/fallback"
	cache "github.com/go-pkgz/expirable-cache/v2"
	"golang.org/x/exp/slog"
)

var errNoContent = errors.New("no content found on the page")

// maxPageSize limits the amount of bytes read from a single page.
const maxPageSize = 5 << 20

// ScraperParams defines parameters of the Scraper.
type ScraperParams struct {
	Timeout  time.Duration // per page, 10s if zero
	CacheTTL time.Duration // zero disables the cache
}

// Scraper downloads reference pages and extracts their text.
type Scraper struct {
	log       *slog.Logger
	cl        *http.Client
	extractor Extractor
	timeout   time.Duration
	cache     cache.Cache[string, string]
}

// NewScraper creates new Scraper.
func NewScraper(lg *slog.Logger, cl *http.Client, extractor Extractor, params ScraperParams) *Scraper {
	s := &Scraper{
		log:       lg,
		cl:        cl,
		extractor: extractor,
		timeout:   params.Timeout,
	}

	if s.timeout == 0 {
		s.timeout = 10 * time.Second
	}

	if params.CacheTTL > 0 {
		s.cache = cache.NewCache[string, string]().
			WithLRU().
			WithMaxKeys(100).
			WithTTL(params.CacheTTL)
	}

	return s
}

// Scrape returns the text of the page at u, or UnscrapableText if the
// page could not be downloaded.
func (s *Scraper) Scrape(ctx context.Context, u string) fallback.Result[string] {
	res := fallback.Attempt(ctx, func(ctx context.Context) (string, error) {
		return s.scrape(ctx, u)
	}, fallback.Static(UnscrapableText))

	if res.Degraded() {
		s.log.WarnCtx(ctx, "failed to scrape page", slog.String("url", u), slog.Any("err", res.Err))
		return res
	}

	s.log.InfoCtx(ctx, "scraped page", slog.String("url", u), slog.Int("chars", len([]rune(res.Value))))
	return res
}

// ScrapeAll scrapes urls one by one, a failure of one page does not
// affect the others.
func (s *Scraper) ScrapeAll(ctx context.Context, urls []string) []fallback.Result[string] {
	results := make([]fallback.Result[string], 0, len(urls))
	for _, u := range urls {
		results = append(results, s.Scrape(ctx, u))
	}
	return results
}

func (s *Scraper) scrape(ctx context.Context, u string) (string, error) {
	if s.cache != nil {
		if text, ok := s.cache.Get(u); ok {
			s.log.DebugCtx(ctx, "page found in cache", slog.String("url", u))
			return text, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.cl.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.log.WarnCtx(ctx, "failed to close response body", slog.Any("err", err))
		}
	}()

	ok := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if !ok {
		return "", fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := s.extractor.Extract(string(body))
	if text == UnscrapableText {
		return "", errNoContent
	}

	if s.cache != nil {
		s.cache.Set(u, text, 0)
	}

	return text, nil
}

// CacheStat returns stats of the page cache.
func (s *Scraper) CacheStat() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stat()
}
