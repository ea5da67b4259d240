package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Semior001/enhancer/app/store"
	"github.com/Semior001/enhancer/pkg/fallback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// stubNetwork serves requests to the store host with the handler and
// fails all other requests, recording every one of them.
type stubNetwork struct {
	storeHost string
	store     http.HandlerFunc

	mu   sync.Mutex
	reqs []string
}

func (n *stubNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.reqs = append(n.reqs, req.Method+" "+req.URL.String())
	n.mu.Unlock()

	if req.URL.Host != n.storeHost {
		return nil, errors.New("network is disabled in tests")
	}

	rec := httptest.NewRecorder()
	n.store(rec, req)
	return rec.Result(), nil
}

func (n *stubNetwork) requests() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reqs...)
}

func newUnconfiguredPipeline(n *stubNetwork) *Pipeline {
	cl := &http.Client{Transport: n}
	lg := slog.Default()

	return &Pipeline{
		Logger:   lg,
		Store:    store.NewAPI(lg, cl, "http://"+n.storeHost+"/api"),
		Finder:   NewFinder(lg, cl, FinderParams{}),
		Scraper:  NewScraper(lg, cl, NewExtractor(), ScraperParams{}),
		Rewriter: NewRewriter(lg, cl, RewriterParams{}),
	}
}

func TestPipeline_Run_Unconfigured(t *testing.T) {
	var published map[string]any
	n := &stubNetwork{storeHost: "store.test", store: func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/articles/latest":
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":1,"title":"X","content":"Y","is_updated":false}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/articles":
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &published))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":2,"title":"[Updated] X","content":"...","is_updated":true}}`))
		default:
			t.Errorf("unexpected store request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}}

	summary, err := newUnconfiguredPipeline(n).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET http://store.test/api/articles/latest",
		"GET https://example.com/article1",
		"GET https://example.com/article2",
		"POST http://store.test/api/articles",
	}, n.requests())

	require.NotNil(t, published)
	assert.True(t, strings.HasPrefix(published["title"].(string), store.UpdatedTitlePrefix))
	assert.Equal(t, "[Updated] X", published["title"])
	assert.Contains(t, published["content"], "Enhanced Content")
	assert.Equal(t, "1. https://example.com/article1\n2. https://example.com/article2", published["references"])
	assert.Equal(t, true, published["is_updated"])
	assert.Equal(t, store.EnhancedAuthor, published["author"])
	assert.NotContains(t, published, "url", "original has no url")

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, store.ID("1"), summary.Original.ID)
	assert.Equal(t, store.ID("2"), summary.Published.ID)
	assert.Equal(t, MockReferences(), summary.References)
	assert.Equal(t, map[Stage]fallback.Outcome{
		StageFindReferences:   fallback.Unconfigured,
		StageScrapeReferences: fallback.Failed,
		StageRewrite:          fallback.Unconfigured,
	}, summary.Outcomes)
}

func TestPipeline_Run_NoOriginal(t *testing.T) {
	n := &stubNetwork{storeHost: "store.test", store: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}}

	_, err := newUnconfiguredPipeline(n).Run(context.Background())
	require.Error(t, err)

	var stErr *StageError
	require.True(t, errors.As(err, &stErr), "got %T: %v", err, err)
	assert.Equal(t, StageFetchOriginal, stErr.Stage)

	var nfErr *store.NotFoundError
	assert.True(t, errors.As(err, &nfErr), "got %T: %v", err, err)

	assert.Equal(t, []string{"GET http://store.test/api/articles/latest"}, n.requests(),
		"no network calls must be made after the original is not found")
}

func TestPipeline_Run_PublishRejected(t *testing.T) {
	n := &stubNetwork{storeHost: "store.test", store: func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":1,"title":"X","content":"Y"}}`))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"message":"invalid"}`))
	}}

	_, err := newUnconfiguredPipeline(n).Run(context.Background())

	var stErr *StageError
	require.True(t, errors.As(err, &stErr), "got %T: %v", err, err)
	assert.Equal(t, StagePublish, stErr.Stage)

	var upErr *store.UpstreamError
	require.True(t, errors.As(err, &upErr), "got %T: %v", err, err)
	assert.Equal(t, http.StatusUnprocessableEntity, upErr.StatusCode)
}

type fakeStore struct {
	original   store.Article
	draft      store.Draft
	references []string
}

func (f *fakeStore) FetchLatest(context.Context) (store.Article, error) { return f.original, nil }

func (f *fakeStore) Publish(_ context.Context, d store.Draft, refs []string) (store.Article, error) {
	f.draft, f.references = d, refs
	return store.Article{ID: "10", Title: store.UpdatedTitlePrefix + d.Title, Content: d.Content, IsUpdated: true}, nil
}

type fakeFinder []string

func (f fakeFinder) Search(_ context.Context, q string) fallback.Result[[]string] {
	return fallback.Result[[]string]{Value: f, Outcome: fallback.Live}
}

type fakeScraper map[string]string

func (f fakeScraper) ScrapeAll(_ context.Context, urls []string) []fallback.Result[string] {
	res := make([]fallback.Result[string], 0, len(urls))
	for _, u := range urls {
		res = append(res, fallback.Result[string]{Value: f[u], Outcome: fallback.Live})
	}
	return res
}

type fakeRewriter struct{ refs []string }

func (f *fakeRewriter) Rewrite(_ context.Context, a store.Article, refs []string) fallback.Result[store.Draft] {
	f.refs = refs
	return fallback.Result[store.Draft]{
		Value:   store.Draft{Title: a.Title + " v2", Content: "rewritten " + a.Content},
		Outcome: fallback.Live,
	}
}

func TestPipeline_Run_Live(t *testing.T) {
	st := &fakeStore{original: store.Article{ID: "5", Title: "Go", Content: "gophers", URL: "https://blog.example/go"}}
	rw := &fakeRewriter{}

	journal, err := store.NewBolt(t.TempDir())
	require.NoError(t, err)
	defer journal.Close()

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &Pipeline{
		Logger:   slog.Default(),
		Store:    st,
		Finder:   fakeFinder{"https://a", "https://b"},
		Scraper:  fakeScraper{"https://a": "text a", "https://b": "text b"},
		Rewriter: rw,
		Journal:  journal,
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"text a", "text b"}, rw.refs)
	assert.Equal(t, store.Draft{Title: "Go v2", Content: "rewritten gophers", SourceURL: "https://blog.example/go"}, st.draft)
	assert.Equal(t, []string{"https://a", "https://b"}, st.references)
	assert.Equal(t, time.Second, summary.Elapsed)
	for _, o := range summary.Outcomes {
		assert.Equal(t, fallback.Live, o)
	}

	runs, err := journal.List(context.Background(), store.ListRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, store.ID("5"), runs[0].OriginalID)
	assert.Equal(t, store.ID("10"), runs[0].PublishedID)
	assert.Equal(t, "[Updated] Go v2", runs[0].PublishedTitle)
	assert.Equal(t, "live", runs[0].Outcomes[string(StageRewrite)])
	assert.True(t, runs[0].FinishedAt.Sub(runs[0].StartedAt) == time.Second)
}

func TestStageError(t *testing.T) {
	inner := &store.NotFoundError{Resource: "latest article"}
	err := &StageError{Stage: StageFetchOriginal, Err: inner}
	assert.Equal(t, "fetch_original: latest article not found", err.Error())
	assert.ErrorIs(t, err, inner)
}
