package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/exp/slog"
)

// Fixed provenance of published rewrites.
const (
	UpdatedTitlePrefix = "[Updated] "
	EnhancedAuthor     = "AI Enhanced"
)

// API is a client of the article store HTTP API.
type API struct {
	log     *slog.Logger
	cl      *http.Client
	baseURL string
}

// NewAPI makes a new store API client, baseURL points to the API root,
// e.g. http://localhost:8000/api.
func NewAPI(lg *slog.Logger, cl *http.Client, baseURL string) *API {
	return &API{
		log:     lg,
		cl:      cl,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    *T     `json:"data,omitempty"`
}

// FetchLatest returns the most recently created article.
func (a *API) FetchLatest(ctx context.Context) (Article, error) {
	const op = "fetch latest"

	var env envelope[Article]
	status, err := a.do(ctx, http.MethodGet, "/articles/latest", nil, &env)
	if err != nil {
		if status == http.StatusNotFound {
			return Article{}, &NotFoundError{Resource: "latest article", Message: env.Message}
		}
		return Article{}, &UpstreamError{Op: op, StatusCode: status, Message: env.Message, Err: err}
	}

	if !env.Success || env.Data == nil {
		return Article{}, &NotFoundError{Resource: "latest article", Message: env.Message}
	}

	a.log.DebugCtx(ctx, "fetched latest article", slog.String("id", string(env.Data.ID)))
	return *env.Data, nil
}

// Publish creates a new article from the draft, marking it as an updated
// version with the given references.
func (a *API) Publish(ctx context.Context, draft Draft, references []string) (Article, error) {
	const op = "publish"

	req := Article{
		Title:      UpdatedTitlePrefix + draft.Title,
		Content:    draft.Content,
		URL:        draft.SourceURL,
		Author:     EnhancedAuthor,
		References: FormatReferences(references),
		IsUpdated:  true,
	}

	var env envelope[Article]
	status, err := a.do(ctx, http.MethodPost, "/articles", req, &env)
	if err != nil {
		return Article{}, &UpstreamError{Op: op, StatusCode: status, Message: env.Message, Err: err}
	}

	if !env.Success || env.Data == nil {
		return Article{}, &UpstreamError{Op: op, StatusCode: status, Message: lo.Ternary(env.Message == "",
			"store rejected the article", env.Message)}
	}

	return *env.Data, nil
}

// List returns all articles, newest first.
func (a *API) List(ctx context.Context) ([]Article, error) {
	const op = "list"

	var env envelope[[]Article]
	status, err := a.do(ctx, http.MethodGet, "/articles", nil, &env)
	if err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: status, Message: env.Message, Err: err}
	}

	if !env.Success {
		return nil, &UpstreamError{Op: op, StatusCode: status, Message: env.Message}
	}

	if env.Data == nil {
		return []Article{}, nil
	}

	return *env.Data, nil
}

// FormatReferences joins urls into a numbered list, one per line.
func FormatReferences(urls []string) string {
	return strings.Join(lo.Map(urls, func(u string, i int) string {
		return fmt.Sprintf("%d. %s", i+1, u)
	}), "\n")
}

// errBadStatus is returned by do when the store answered with a non-2xx code.
var errBadStatus = errors.New("unexpected status code")

// do sends the request and decodes the response into dst. It returns the
// status code of the response, if any. dst is populated with whatever the
// store returned even if the status is not successful.
func (a *API) do(ctx context.Context, method, path string, body, dst any) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		bts, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(bts)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.cl.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.log.WarnCtx(ctx, "failed to close response body", slog.Any("err", err))
		}
	}()

	decodeErr := json.NewDecoder(resp.Body).Decode(dst)

	ok := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if !ok {
		return resp.StatusCode, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
	}

	return resp.StatusCode, nil
}
