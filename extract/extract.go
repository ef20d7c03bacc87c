// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package extract turns fetched web content into normalized markdown.
//
// Each Extractor decides whether it can handle a URL and content type,
// knows how to fetch the resource, and converts the raw bytes into a Result.
// A Dispatcher picks the extractor for a given URL.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/fetch"
)

// Result is the normalized output of an extractor.
type Result struct {
	Title        string
	Lang         string
	CanonicalURL string
	HTML         string
	Markdown     string
	Text         string
}

// Extractor converts raw content for a family of URLs or content types.
type Extractor interface {
	// Name identifies the extractor in logs.
	Name() string

	// CanHandle reports whether the extractor supports the URL and content
	// type. An empty contentType means it is not known yet.
	CanHandle(u *url.URL, contentType string) bool

	// Fetch retrieves the resource.
	Fetch(ctx context.Context, u *url.URL, opts fetch.FetchOptions) (*fetch.Result, error)

	// Extract converts fetched content. It fails with core.ErrExtractionFailure
	// when no content can be found.
	Extract(ctx context.Context, doc *fetch.Result) (*Result, error)
}

// Dispatcher selects an extractor for a URL. Host rules are consulted first,
// then the default extractors in registration order.
type Dispatcher struct {
	hosts      map[string]Extractor
	extractors []Extractor
}

// NewDispatcher creates a dispatcher over the given default extractors.
func NewDispatcher(extractors ...Extractor) *Dispatcher {
	return &Dispatcher{
		hosts:      make(map[string]Extractor),
		extractors: extractors,
	}
}

// NewDefaultDispatcher returns the readability and plain text extractors
// sharing one fetcher.
func NewDefaultDispatcher(fetcher *fetch.Fetcher) *Dispatcher {
	return NewDispatcher(
		NewReadabilityExtractor(fetcher),
		NewPlainTextExtractor(fetcher),
	)
}

// ForHost routes every URL on host to ex, regardless of content type.
func (d *Dispatcher) ForHost(host string, ex Extractor) *Dispatcher {
	d.hosts[strings.ToLower(host)] = ex
	return d
}

// Select returns the first extractor able to handle u and contentType.
func (d *Dispatcher) Select(u *url.URL, contentType string) (Extractor, error) {
	if ex, ok := d.hosts[strings.ToLower(u.Hostname())]; ok && ex.CanHandle(u, contentType) {
		return ex, nil
	}
	for _, ex := range d.extractors {
		if ex.CanHandle(u, contentType) {
			return ex, nil
		}
	}
	if contentType == "" {
		return nil, fmt.Errorf("%w: no extractor for %s", core.ErrExtractionFailure, u)
	}
	return nil, fmt.Errorf("%w: no extractor for %s (%s)", core.ErrExtractionFailure, u, contentType)
}

// base carries the shared fetch behavior of the built-in extractors.
type base struct {
	fetcher *fetch.Fetcher
}

func (b base) Fetch(ctx context.Context, u *url.URL, opts fetch.FetchOptions) (*fetch.Result, error) {
	return b.fetcher.Fetch(ctx, u.String(), opts)
}

func isHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// resolveURL resolves ref against the document location. Invalid refs yield "".
func resolveURL(doc *fetch.Result, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	loc := doc.FinalURL
	if loc == "" {
		loc = doc.URL
	}
	baseURL, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	resolved, err := baseURL.Parse(ref)
	if err != nil {
		return ""
	}
	return resolved.String()
}
