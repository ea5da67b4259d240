package enhancer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// UnscrapableText is returned instead of the page text when the page
// could not be fetched or has no usable content.
const UnscrapableText = "Unable to scrape content from this URL."

const (
	noiseSelector = "script, style, nav, header, footer, aside, .menu, .nav, .navigation"

	// minContentLen is the length a content container's text must exceed
	// to be taken as the article body.
	minContentLen = 200

	// MaxContentLen is the maximum length of extracted text, in characters.
	MaxContentLen = 2000
)

// contentSelectors are tried in order, the first one with enough text wins.
var contentSelectors = []string{
	"article",
	".post-content",
	".article-content",
	".entry-content",
	"main",
	".content",
	"#content",
}

var spaces = regexp.MustCompile(`\s+`)

// Extractor extracts the body text of an article from an HTML page.
type Extractor struct {
	// Readability enables go-readability as a last resort for pages
	// without content containers and paragraphs.
	Readability bool
}

// NewExtractor creates new Extractor.
func NewExtractor() Extractor { return Extractor{Readability: true} }

// Extract returns the normalized plain text of the article body.
// It never fails, UnscrapableText is returned if nothing was found.
func (e Extractor) Extract(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return UnscrapableText
	}

	doc.Find(noiseSelector).Remove()

	text := e.mainContent(doc)
	if text == "" {
		text = paragraphs(doc)
	}
	if text == "" && e.Readability {
		text = readable(doc)
	}

	if text = normalize(text); text == "" {
		return UnscrapableText
	}

	return text
}

func (e Extractor) mainContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		found := doc.Find(sel)
		if found.Length() == 0 {
			continue
		}

		if text := strings.TrimSpace(found.Text()); utf8.RuneCountInString(text) > minContentLen {
			return text
		}
	}
	return ""
}

func paragraphs(doc *goquery.Document) string {
	texts := doc.Find("p").Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.Text())
	})
	return strings.TrimSpace(strings.Join(texts, "\n\n"))
}

func readable(doc *goquery.Document) string {
	html, err := doc.Html()
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err != nil {
		return ""
	}

	return article.TextContent
}

// normalize collapses whitespace and truncates the text to MaxContentLen characters.
func normalize(s string) string {
	// nbsp
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))

	if utf8.RuneCountInString(s) <= MaxContentLen {
		return s
	}

	return string([]rune(s)[:MaxContentLen])
}
