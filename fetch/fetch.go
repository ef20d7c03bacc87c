// Package fetch retrieves raw web content over HTTP with bounded retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/retry"
)

const (
	// DefaultTimeout bounds a single fetch attempt.
	DefaultTimeout = 25 * time.Second
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 1
	// DefaultBackoffBase is the linear backoff step between attempts.
	DefaultBackoffBase = time.Second
	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 10 << 20

	// DefaultUserAgent is a desktop Chrome string; some sites refuse obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	// DefaultAccept prefers HTML documents.
	DefaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

// FetchOptions controls a single Fetch call. Zero values fall back to defaults.
type FetchOptions struct {
	Timeout      time.Duration
	Retries      int
	BackoffBase  time.Duration
	UserAgent    string
	Headers      map[string]string
	MaxBodyBytes int64
}

// DefaultOptions returns the options used by the ingestion worker.
func DefaultOptions() FetchOptions {
	return FetchOptions{
		Timeout:      DefaultTimeout,
		Retries:      DefaultRetries,
		BackoffBase:  DefaultBackoffBase,
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return o
}

// Result is the raw outcome of a successful fetch.
type Result struct {
	URL          string
	FinalURL     string
	Status       int
	ContentType  string
	Headers      map[string]string
	Body         []byte
	ETag         string
	LastModified string
}

// Fetcher issues HTTP GET requests. It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "fetcher")
	return f
}

// Fetch GETs rawURL. Attempt i (1-based) that fails waits i*BackoffBase before
// the next one; at most Retries+1 attempts are made. Client errors other than
// 408 and 429 are not retried. Exhaustion returns an error wrapping
// core.ErrFetchFailure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Result, error) {
	opts = opts.withDefaults()

	var result *Result
	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		res, err := f.fetchOnce(ctx, rawURL, opts)
		if err != nil {
			f.logger.Warn("fetch attempt failed", "url", rawURL, "attempt", attempt, "err", err)
			return err
		}
		result = res
		return nil
	}, opts.Retries+1, opts.BackoffBase, retry.Linear)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrFetchFailure, rawURL, err)
	}

	f.logger.Debug("fetched", "url", rawURL, "finalUrl", result.FinalURL, "status", result.Status, "bytes", len(result.Body))
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, opts FetchOptions) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", DefaultAccept)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		statusErr := fmt.Errorf("%w: %s %s", ErrStatus, resp.Status, snippet)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	return &Result{
		URL:          rawURL,
		FinalURL:     resp.Request.URL.String(),
		Status:       resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		Headers:      headers,
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
