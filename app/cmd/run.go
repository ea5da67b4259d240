// Package cmd contains commands for the application.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Semior001/enhancer/app/enhancer"
	"github.com/Semior001/enhancer/app/store"
	"github.com/Semior001/enhancer/pkg/logx"
	"github.com/go-pkgz/requester"
	"github.com/go-pkgz/requester/middleware"
	"golang.org/x/exp/slog"
)

// PipelineOpts defines options shared by the commands that run the pipeline.
type PipelineOpts struct {
	Store StoreOpts `group:"store" namespace:"store" env-namespace:"STORE"`

	Search struct {
		APIKey   string        `long:"api-key" env:"API_KEY" description:"custom search API key, mock references are used if empty"`
		EngineID string        `long:"engine-id" env:"ENGINE_ID" description:"custom search engine id, mock references are used if empty"`
		URL      string        `long:"url" env:"URL" default:"https://www.googleapis.com" description:"custom search API root"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"timeout for search requests"`
	} `group:"search" namespace:"search" env-namespace:"SEARCH"`

	Scrape struct {
		Timeout   time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"timeout for a single page"`
		CacheTTL  time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"1h" description:"how long scraped pages are kept in memory"`
		UserAgent string        `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (compatible; enhancer/1.0)" description:"user agent for page requests"`
	} `group:"scrape" namespace:"scrape" env-namespace:"SCRAPE"`

	Generative struct {
		APIKey      string        `long:"api-key" env:"API_KEY" description:"OpenAI token, template rewrite is used if empty"`
		BaseURL     string        `long:"base-url" env:"BASE_URL" description:"OpenAI-compatible API root"`
		Model       string        `long:"model" env:"MODEL" default:"gpt-3.5-turbo" description:"chat model"`
		MaxTokens   int           `long:"max-tokens" env:"MAX_TOKENS" default:"2000" description:"max tokens of the answer"`
		Temperature float32       `long:"temperature" env:"TEMPERATURE" default:"0.7" description:"sampling temperature"`
		Timeout     time.Duration `long:"timeout" env:"TIMEOUT" default:"2m" description:"timeout for generative calls"`
	} `group:"generative" namespace:"generative" env-namespace:"GENERATIVE"`

	JournalPath string `long:"journal-path" env:"JOURNAL_PATH" description:"parent dir for the bolt journal of runs, disabled if empty"`
}

// StoreOpts defines options of the article store client.
type StoreOpts struct {
	URL     string        `long:"url" env:"URL" default:"http://localhost:8000/api" description:"article store API root"`
	Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"timeout for store requests"`
}

// Run is a command to enhance the latest article once.
type Run struct {
	PipelineOpts
}

// Execute runs the command.
func (r Run) Execute(_ []string) error {
	lg := slog.Default()

	p, closeFn, err := r.pipeline(lg)
	if err != nil {
		return fmt.Errorf("make pipeline: %w", err)
	}
	defer closeFn()

	s, err := p.Run(context.Background())
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	lg.Info("article enhanced",
		slog.String("run_id", s.RunID),
		slog.String("original_title", s.Original.Title),
		slog.String("published_id", string(s.Published.ID)),
		slog.String("published_title", s.Published.Title),
	)

	return nil
}

// pipeline assembles the pipeline, the returned function releases
// the resources held by it.
func (o PipelineOpts) pipeline(lg *slog.Logger) (*enhancer.Pipeline, func(), error) {
	p := &enhancer.Pipeline{
		Logger: lg.With(slog.String("prefix", "pipeline")),
		Store:  o.Store.api(lg),
		Finder: enhancer.NewFinder(
			lg.With(slog.String("prefix", "search")),
			httpClient(lg, o.Search.Timeout, logx.RoundTripperOpts{SecretParams: []string{"key"}}),
			enhancer.FinderParams{
				BaseURL:  o.Search.URL,
				APIKey:   o.Search.APIKey,
				EngineID: o.Search.EngineID,
			},
		),
		Scraper: enhancer.NewScraper(
			lg.With(slog.String("prefix", "scraper")),
			// scraper bounds each page by its own timeout
			httpClient(lg, 0, logx.RoundTripperOpts{}, middleware.Header("User-Agent", o.Scrape.UserAgent)),
			enhancer.NewExtractor(),
			enhancer.ScraperParams{Timeout: o.Scrape.Timeout, CacheTTL: o.Scrape.CacheTTL},
		),
		Rewriter: enhancer.NewRewriter(
			lg.With(slog.String("prefix", "rewriter")),
			httpClient(lg, o.Generative.Timeout, logx.RoundTripperOpts{SecretHeaders: []string{"Authorization"}}),
			enhancer.RewriterParams{
				Token:       o.Generative.APIKey,
				BaseURL:     o.Generative.BaseURL,
				Model:       o.Generative.Model,
				MaxTokens:   o.Generative.MaxTokens,
				Temperature: o.Generative.Temperature,
			},
		),
	}

	if o.JournalPath == "" {
		return p, func() {}, nil
	}

	journal, err := store.NewBolt(o.JournalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("make journal: %w", err)
	}
	p.Journal = journal

	return p, func() {
		if err := journal.Close(); err != nil {
			lg.Error("close journal", slog.Any("err", err))
		}
	}, nil
}

func (o StoreOpts) api(lg *slog.Logger) *store.API {
	return store.NewAPI(
		lg.With(slog.String("prefix", "store")),
		httpClient(lg, o.Timeout, logx.RoundTripperOpts{}),
		o.URL,
	)
}

// httpClient makes a client that logs the traffic at debug level,
// with secrets from opts redacted.
func httpClient(lg *slog.Logger, timeout time.Duration, opts logx.RoundTripperOpts,
	mws ...middleware.RoundTripperHandler) *http.Client {
	opts.Level = slog.LevelDebug
	mws = append(mws, logx.LoggingRoundTripper(lg.With(slog.String("prefix", "http")), opts))
	return requester.New(http.Client{Timeout: timeout}, mws...).Client()
}
