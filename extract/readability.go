package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/fetch"
)

// noiseSelector lists elements that never carry article content.
const noiseSelector = "script, style, noscript, template, iframe, svg, canvas, form, nav, aside, footer, header"

// mainCandidates are tried in order when looking for the article body.
var mainCandidates = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".content",
	".post",
	".entry-content",
	".article-body",
}

// ReadabilityExtractor extracts the main article of a generic HTML page.
type ReadabilityExtractor struct {
	base
}

var _ Extractor = (*ReadabilityExtractor)(nil)

// NewReadabilityExtractor creates a ReadabilityExtractor that fetches with fetcher.
func NewReadabilityExtractor(fetcher *fetch.Fetcher) *ReadabilityExtractor {
	return &ReadabilityExtractor{base: base{fetcher: fetcher}}
}

func (e *ReadabilityExtractor) Name() string { return "readability" }

// CanHandle accepts HTML, or any URL whose content type is not known yet.
func (e *ReadabilityExtractor) CanHandle(u *url.URL, contentType string) bool {
	if !isHTTP(u) {
		return false
	}
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func (e *ReadabilityExtractor) Extract(ctx context.Context, doc *fetch.Result) (*Result, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", core.ErrExtractionFailure, err)
	}

	result := &Result{
		Title:        pageTitle(page),
		Lang:         pageLang(page),
		CanonicalURL: resolveURL(doc, page.Find(`link[rel="canonical"]`).First().AttrOr("href", "")),
	}

	body := page.Find("body")
	body.Find(noiseSelector).Remove()
	main := mainContent(body)

	result.Markdown = renderMarkdown(main)
	result.Text = collapse(main.Text())
	if result.Markdown == "" {
		return nil, fmt.Errorf("%w: no readable content", core.ErrExtractionFailure)
	}
	if cleaned, err := goquery.OuterHtml(main); err == nil {
		result.HTML = cleaned
	}
	return result, nil
}

// mainContent picks the candidate holding the most text, falling back to body.
func mainContent(body *goquery.Selection) *goquery.Selection {
	var best *goquery.Selection
	bestLen := 0
	for _, selector := range mainCandidates {
		body.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if n := len(collapse(s.Text())); n > bestLen {
				best, bestLen = s, n
			}
		})
	}
	if best == nil {
		return body
	}
	return best
}

func pageTitle(page *goquery.Document) string {
	if title := collapse(page.Find("head title").First().Text()); title != "" {
		return title
	}
	if title := strings.TrimSpace(page.Find(`meta[property="og:title"]`).AttrOr("content", "")); title != "" {
		return title
	}
	return collapse(page.Find("h1").First().Text())
}

func pageLang(page *goquery.Document) string {
	if lang := strings.TrimSpace(page.Find("html").AttrOr("lang", "")); lang != "" {
		return lang
	}
	return strings.TrimSpace(page.Find(`meta[http-equiv="content-language"]`).AttrOr("content", ""))
}
