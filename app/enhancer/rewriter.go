package enhancer

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/Semior001/enhancer/app/store"
	"github.com/Semior001/enhancer/pkg/fallback"
	cache "github.com/go-pkgz/expirable-cache/v2"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/exp/slog"
)

//go:embed data/prompt.tmpl
var prompt string

//go:embed data/mock.tmpl
var mock string

var (
	promptTmpl = template.Must(template.New("prompt").Parse(prompt))
	mockTmpl   = template.Must(template.New("mock").
			Funcs(template.FuncMap{"lower": strings.ToLower}).
			Parse(mock))
)

const systemPrompt = "You are an expert content writer that helps improve and format articles."

//go:generate moq -out mock_openai_client.go . OpenAIClient

// OpenAIClient is interface for OpenAI client with the possibility to mock it
type OpenAIClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// RewriterParams defines parameters of the Rewriter.
type RewriterParams struct {
	Token       string // rewriting falls back to a template if empty
	BaseURL     string // OpenAI-compatible API root, default OpenAI API if empty
	Model       string
	MaxTokens   int
	Temperature float32
}

// Rewriter rewrites articles with a chat completion model.
type Rewriter struct {
	log         *slog.Logger
	cl          OpenAIClient // nil if not configured
	model       string
	maxTokens   int
	temperature float32
	cache       cache.Cache[string, store.Draft]
}

// NewRewriter creates new Rewriter.
func NewRewriter(lg *slog.Logger, cl *http.Client, params RewriterParams) *Rewriter {
	r := &Rewriter{
		log:         lg,
		model:       params.Model,
		maxTokens:   params.MaxTokens,
		temperature: params.Temperature,
		cache: cache.NewCache[string, store.Draft]().
			WithLRU().
			WithMaxKeys(100),
	}

	if r.model == "" {
		r.model = openai.GPT3Dot5Turbo
	}

	if params.Token == "" {
		return r
	}

	config := openai.DefaultConfig(params.Token)
	config.HTTPClient = cl
	if params.BaseURL != "" {
		config.BaseURL = params.BaseURL
	}

	r.cl = &loggingClient{log: lg, cl: openai.NewClientWithConfig(config)}
	return r
}

type promptData struct {
	Title      string
	Content    string
	References []string
}

// Rewrite returns a draft of the article rewritten in the manner of the
// references. If the model is not configured or fails, the draft is made
// from a fixed template around the original text.
func (r *Rewriter) Rewrite(ctx context.Context, article store.Article, references []string) fallback.Result[store.Draft] {
	res := fallback.Attempt(ctx, func(ctx context.Context) (store.Draft, error) {
		return r.rewrite(ctx, article, references)
	}, func() store.Draft { return MockDraft(article) })

	switch res.Outcome {
	case fallback.Unconfigured:
		r.log.InfoCtx(ctx, "rewriter is not configured, using template draft")
	case fallback.Failed:
		r.log.WarnCtx(ctx, "failed to rewrite article, using template draft", slog.Any("err", res.Err))
	default:
		r.log.InfoCtx(ctx, "article rewritten", slog.String("title", res.Value.Title))
	}

	return res
}

// MockDraft builds the template draft of the article. The result depends
// only on the article title and content.
func MockDraft(article store.Article) store.Draft {
	buf := &strings.Builder{}
	if err := mockTmpl.Execute(buf, article); err != nil {
		// the template is static and only reads string fields
		panic(fmt.Sprintf("execute mock template: %v", err))
	}

	return store.Draft{Title: article.Title, Content: strings.TrimSpace(buf.String())}
}

var errNoChoices = errors.New("no choices in response")

func (r *Rewriter) rewrite(ctx context.Context, article store.Article, references []string) (store.Draft, error) {
	if r.cl == nil {
		return store.Draft{}, fallback.ErrNotConfigured
	}

	data := promptData{Title: article.Title, Content: article.Content, References: make([]string, MaxReferences)}
	for i := range data.References {
		data.References[i] = UnscrapableText
		if i < len(references) {
			data.References[i] = references[i]
		}
	}

	buf := &strings.Builder{}
	if err := promptTmpl.Execute(buf, data); err != nil {
		return store.Draft{}, fmt.Errorf("build request: %w", err)
	}

	key := cacheKey(r.model, buf.String())
	if draft, ok := r.cache.Get(key); ok {
		r.log.DebugCtx(ctx, "rewrite found in cache")
		return draft, nil
	}

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buf.String()},
		},
	}

	resp, err := r.cl.CreateChatCompletion(ctx, req)
	if err != nil {
		return store.Draft{}, fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return store.Draft{}, errNoChoices
	}

	draft := parseDraft(resp.Choices[0].Message.Content, article.Title)
	if draft.Content == "" {
		return store.Draft{}, errors.New("empty completion")
	}

	r.cache.Set(key, draft, 0)
	return draft, nil
}

// parseDraft reads a {"title", "content"} object from the model answer.
// If the answer is not such an object, the whole answer is the content.
func parseDraft(answer, title string) store.Draft {
	answer = strings.TrimSpace(answer)

	var d store.Draft
	if err := json.Unmarshal([]byte(unfence(answer)), &d); err != nil || strings.TrimSpace(d.Content) == "" {
		return store.Draft{Title: title, Content: answer}
	}

	if strings.TrimSpace(d.Title) == "" {
		d.Title = title
	}

	return d
}

// unfence strips a markdown code fence around the text, if any.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}

	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func cacheKey(model, prompt string) string {
	h := sha256.Sum256([]byte(model + "\x00" + prompt))
	return hex.EncodeToString(h[:])
}

// CacheStat returns stats of the rewrite cache.
func (r *Rewriter) CacheStat() cache.Stats { return r.cache.Stat() }

type loggingClient struct {
	log *slog.Logger
	cl  OpenAIClient
}

func (l *loggingClient) CreateChatCompletion(
	ctx context.Context,
	req openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	l.log.DebugCtx(ctx, "sending request to chat completion API", slog.String("model", req.Model))
	resp, err := l.cl.CreateChatCompletion(ctx, req)
	l.log.DebugCtx(ctx, "response received from chat completion API", slog.Int("total_tokens", resp.Usage.TotalTokens))
	return resp, err
}
