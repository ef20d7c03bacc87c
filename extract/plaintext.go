package extract

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/fetch"
)

// PlainTextExtractor passes text/plain and markdown documents through.
type PlainTextExtractor struct {
	base
}

var _ Extractor = (*PlainTextExtractor)(nil)

// NewPlainTextExtractor creates a PlainTextExtractor.
func NewPlainTextExtractor(fetcher *fetch.Fetcher) *PlainTextExtractor {
	return &PlainTextExtractor{base: base{fetcher: fetcher}}
}

func (e *PlainTextExtractor) Name() string { return "plaintext" }

func (e *PlainTextExtractor) CanHandle(u *url.URL, contentType string) bool {
	if !isHTTP(u) {
		return false
	}
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/plain") || strings.Contains(ct, "text/markdown") {
		return true
	}
	if ct != "" {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

func (e *PlainTextExtractor) Extract(ctx context.Context, doc *fetch.Result) (*Result, error) {
	text := strings.TrimSpace(strings.ReplaceAll(string(doc.Body), "\r\n", "\n"))
	if text == "" {
		return nil, fmt.Errorf("%w: empty document", core.ErrExtractionFailure)
	}

	var title string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}

	return &Result{
		Title:    title,
		Markdown: text,
		Text:     collapse(text),
	}, nil
}
