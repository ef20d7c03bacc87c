package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/fetch"
)

var multiSpace = regexp.MustCompile(`\s\s+`)

// SelectorExtractor takes the text of the first CSS selector that matches.
// It is meant for sites whose layout is known in advance.
type SelectorExtractor struct {
	base
	selectors []string
}

var _ Extractor = (*SelectorExtractor)(nil)

// NewSelectorExtractor creates an extractor that tries selectors in order.
func NewSelectorExtractor(fetcher *fetch.Fetcher, selectors ...string) *SelectorExtractor {
	return &SelectorExtractor{base: base{fetcher: fetcher}, selectors: selectors}
}

func (e *SelectorExtractor) Name() string { return "selector" }

// CanHandle accepts any http(s) URL.
func (e *SelectorExtractor) CanHandle(u *url.URL, _ string) bool {
	return isHTTP(u)
}

func (e *SelectorExtractor) Extract(ctx context.Context, doc *fetch.Result) (*Result, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", core.ErrExtractionFailure, err)
	}

	page.Find("script, style, nav, aside, footer, header").Remove()

	var content string
	for _, selector := range e.selectors {
		if match := page.Find(selector); match.Length() > 0 {
			content = match.Text()
			break
		}
	}

	cleaned := strings.TrimSpace(multiSpace.ReplaceAllString(content, " "))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: none of the provided selectors found content on the page", core.ErrExtractionFailure)
	}

	return &Result{
		Title:        strings.TrimSpace(page.Find("title").First().Text()),
		Lang:         pageLang(page),
		CanonicalURL: resolveURL(doc, page.Find(`link[rel="canonical"]`).First().AttrOr("href", "")),
		Markdown:     cleaned,
		Text:         cleaned,
	}, nil
}

// ParseSelectorRules parses "host=sel1,sel2;host2=sel3" into host rules.
func ParseSelectorRules(raw string) (map[string][]string, error) {
	rules := make(map[string][]string)
	for _, rule := range strings.Split(raw, ";") {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		host, selectors, ok := strings.Cut(rule, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		if !ok || host == "" {
			return nil, fmt.Errorf("invalid selector rule %q", rule)
		}
		var list []string
		for _, s := range strings.Split(selectors, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("selector rule for %s has no selectors", host)
		}
		rules[host] = list
	}
	return rules, nil
}
