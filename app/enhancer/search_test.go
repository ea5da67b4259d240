package enhancer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Semior001/enhancer/pkg/fallback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestFinder_Search_Unconfigured(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer ts.Close()

	for _, params := range []FinderParams{
		{BaseURL: ts.URL},
		{BaseURL: ts.URL, APIKey: "key"},
		{BaseURL: ts.URL, EngineID: "cx"},
	} {
		f := NewFinder(slog.Default(), ts.Client(), params)
		for _, q := range []string{"x", "chatbots", ""} {
			res := f.Search(context.Background(), q)
			assert.Equal(t, MockReferences(), res.Value)
			assert.Equal(t, fallback.Unconfigured, res.Outcome)
		}
	}

	assert.False(t, called, "search backend must not be called without credentials")
}

func TestFinder_Search(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customsearch/v1", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		assert.Equal(t, "cx", r.URL.Query().Get("cx"))
		assert.Equal(t, "chatbots & support", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"items":[
			{"title":"one","link":"https://one.example/a"},
			{"title":"two","link":"https://two.example/b"},
			{"title":"three","link":"https://three.example/c"}
		]}`))
	}))
	defer ts.Close()

	f := NewFinder(slog.Default(), ts.Client(), FinderParams{BaseURL: ts.URL + "/", APIKey: "key", EngineID: "cx"})

	res := f.Search(context.Background(), "chatbots & support")
	require.Equal(t, fallback.Live, res.Outcome)
	assert.Equal(t, []string{"https://one.example/a", "https://two.example/b"}, res.Value)
}

func TestFinder_Search_SingleResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"link":""},{"link":"https://one.example/a"}]}`))
	}))
	defer ts.Close()

	f := NewFinder(slog.Default(), ts.Client(), FinderParams{BaseURL: ts.URL, APIKey: "key", EngineID: "cx"})

	res := f.Search(context.Background(), "q")
	assert.Equal(t, fallback.Live, res.Outcome)
	assert.Equal(t, []string{"https://one.example/a"}, res.Value)
}

func TestFinder_Search_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":{"code":500}}`},
		{name: "quota exceeded", status: http.StatusTooManyRequests, body: `{}`},
		{name: "malformed", status: http.StatusOK, body: `{"items":`},
		{name: "no items", status: http.StatusOK, body: `{}`},
		{name: "empty items", status: http.StatusOK, body: `{"items":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			f := NewFinder(slog.Default(), ts.Client(), FinderParams{BaseURL: ts.URL, APIKey: "key", EngineID: "cx"})

			res := f.Search(context.Background(), "q")
			assert.Equal(t, MockReferences(), res.Value)
			assert.Equal(t, fallback.Failed, res.Outcome)
			assert.Error(t, res.Err)
		})
	}
}

func TestFinder_Search_Transport(t *testing.T) {
	f := NewFinder(slog.Default(), &http.Client{}, FinderParams{BaseURL: "http://127.0.0.1:1", APIKey: "key", EngineID: "cx"})

	res := f.Search(context.Background(), "q")
	assert.Equal(t, MockReferences(), res.Value)
	assert.Equal(t, fallback.Failed, res.Outcome)
}
