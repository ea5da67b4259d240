// Package enhancer contains the pipeline that rewrites the latest stored
// article in the manner of the top search results on its topic.
package enhancer

import (
	"context"
	"fmt"
	"time"

	"github.com/Semior001/enhancer/app/store"
	"github.com/Semior001/enhancer/pkg/fallback"
	"github.com/Semior001/enhancer/pkg/logx"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/exp/slog"
)

// Stage is a state of the pipeline run.
type Stage string

// Stages of the pipeline, in order of execution.
const (
	StageFetchOriginal    Stage = "fetch_original"
	StageFindReferences   Stage = "find_references"
	StageScrapeReferences Stage = "scrape_references"
	StageRewrite          Stage = "rewrite"
	StagePublish          Stage = "publish"
	StageDone             Stage = "done"
)

// StageError is a fatal error that terminated the run at the given stage.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// ReferenceFinder looks for reference articles on a topic.
type ReferenceFinder interface {
	Search(ctx context.Context, query string) fallback.Result[[]string]
}

// PageScraper extracts text of web pages.
type PageScraper interface {
	ScrapeAll(ctx context.Context, urls []string) []fallback.Result[string]
}

// ArticleRewriter rewrites an article in the manner of the references.
type ArticleRewriter interface {
	Rewrite(ctx context.Context, article store.Article, references []string) fallback.Result[store.Draft]
}

// Summary describes a completed run.
type Summary struct {
	RunID      string
	Original   store.Article
	Published  store.Article
	References []string
	Outcomes   map[Stage]fallback.Outcome
	StartedAt  time.Time
	Elapsed    time.Duration
}

// Pipeline fetches the latest article, finds and scrapes references for
// it, rewrites it and publishes the rewrite as a new article.
type Pipeline struct {
	Logger   *slog.Logger
	Store    store.Interface
	Finder   ReferenceFinder
	Scraper  PageScraper
	Rewriter ArticleRewriter
	Journal  store.Journal // optional

	now func() time.Time
}

// Run executes all stages one after another. Only fetching the original
// article and publishing the rewrite may fail the run, the other stages
// fall back to substitute values.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}

	s := Summary{
		RunID:     uuid.New().String(),
		Outcomes:  map[Stage]fallback.Outcome{},
		StartedAt: now(),
	}
	ctx = logx.ContextWithRunID(ctx, s.RunID)

	p.Logger.InfoCtx(ctx, "pipeline run started")

	var err error

	p.stage(ctx, StageFetchOriginal)
	if s.Original, err = p.Store.FetchLatest(ctx); err != nil {
		return s, p.fail(ctx, StageFetchOriginal, err)
	}
	p.Logger.InfoCtx(ctx, "found original article",
		slog.String("id", string(s.Original.ID)), slog.String("title", s.Original.Title))

	p.stage(ctx, StageFindReferences)
	refs := p.Finder.Search(ctx, s.Original.Title)
	s.Outcomes[StageFindReferences] = refs.Outcome
	s.References = refs.Value

	p.stage(ctx, StageScrapeReferences)
	pages := p.Scraper.ScrapeAll(ctx, s.References)
	s.Outcomes[StageScrapeReferences] = fallback.Live
	for _, page := range pages {
		if page.Degraded() {
			s.Outcomes[StageScrapeReferences] = fallback.Failed
		}
	}
	texts := lo.Map(pages, func(r fallback.Result[string], _ int) string { return r.Value })

	p.stage(ctx, StageRewrite)
	draft := p.Rewriter.Rewrite(ctx, s.Original, texts)
	s.Outcomes[StageRewrite] = draft.Outcome
	draft.Value.SourceURL = s.Original.URL

	p.stage(ctx, StagePublish)
	if s.Published, err = p.Store.Publish(ctx, draft.Value, s.References); err != nil {
		return s, p.fail(ctx, StagePublish, err)
	}

	s.Elapsed = now().Sub(s.StartedAt)
	p.stage(ctx, StageDone)
	p.Logger.InfoCtx(ctx, "pipeline run completed",
		slog.String("original_id", string(s.Original.ID)),
		slog.String("published_id", string(s.Published.ID)),
		slog.String("published_title", s.Published.Title),
		slog.Any("references", s.References),
		slog.Duration("elapsed", s.Elapsed),
	)

	p.record(ctx, s)
	return s, nil
}

func (p *Pipeline) stage(ctx context.Context, st Stage) {
	p.Logger.DebugCtx(ctx, "entering stage", slog.String("stage", string(st)))
}

func (p *Pipeline) fail(ctx context.Context, st Stage, err error) error {
	p.Logger.ErrorCtx(ctx, "pipeline run failed", slog.String("stage", string(st)), slog.Any("err", err))
	return &StageError{Stage: st, Err: err}
}

func (p *Pipeline) record(ctx context.Context, s Summary) {
	if p.Journal == nil {
		return
	}

	outcomes := make(map[string]string, len(s.Outcomes))
	for st, o := range s.Outcomes {
		outcomes[string(st)] = o.String()
	}

	err := p.Journal.Put(ctx, store.Run{
		ID:             s.RunID,
		OriginalID:     s.Original.ID,
		OriginalTitle:  s.Original.Title,
		PublishedID:    s.Published.ID,
		PublishedTitle: s.Published.Title,
		References:     s.References,
		Outcomes:       outcomes,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.StartedAt.Add(s.Elapsed),
	})
	if err != nil {
		p.Logger.WarnCtx(ctx, "failed to record run in journal", slog.Any("err", err))
	}
}
