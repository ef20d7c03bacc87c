package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!doctype html>
<html lang="en">
<head>
  <title> Example Article </title>
  <link rel="canonical" href="/posts/example">
  <script>var tracking = true;</script>
</head>
<body>
  <header><a href="/">Home</a></header>
  <nav><ul><li>Menu</li></ul></nav>
  <article>
    <h1>Example Article</h1>
    <p>Hello <b>world</b>. This is a test.</p>
    <h2>Details</h2>
    <ul><li>first</li><li>second</li></ul>
    <pre>code  block</pre>
    <blockquote>quoted   text</blockquote>
  </article>
  <aside>Related links</aside>
  <footer>Copyright</footer>
</body>
</html>`

func doc(body, finalURL string) *fetch.Result {
	return &fetch.Result{URL: finalURL, FinalURL: finalURL, Body: []byte(body), ContentType: "text/html"}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestReadabilityExtractor_Extract(t *testing.T) {
	ex := NewReadabilityExtractor(fetch.NewFetcher())

	result, err := ex.Extract(context.Background(), doc(articlePage, "https://example.com/p?id=1"))
	require.NoError(t, err)

	assert.Equal(t, "Example Article", result.Title)
	assert.Equal(t, "en", result.Lang)
	assert.Equal(t, "https://example.com/posts/example", result.CanonicalURL)
	assert.Equal(t,
		"# Example Article\n\nHello world. This is a test.\n\n## Details\n\n- first\n- second\n\n```\ncode  block\n```\n\n> quoted text",
		result.Markdown)
	assert.NotContains(t, result.Text, "Menu")
	assert.NotContains(t, result.Text, "Copyright")
	assert.NotContains(t, result.Markdown, "tracking")
	assert.Contains(t, result.HTML, "<article>")
}

func TestReadabilityExtractor_BodyFallback(t *testing.T) {
	ex := NewReadabilityExtractor(fetch.NewFetcher())

	result, err := ex.Extract(context.Background(), doc(`<html><body><div>Hello world. This is a test.</div></body></html>`, "https://example.com/"))
	require.NoError(t, err)
	assert.Equal(t, "Hello world. This is a test.", result.Markdown)
	assert.Empty(t, result.Title)
	assert.Empty(t, result.CanonicalURL)
}

func TestReadabilityExtractor_NoContent(t *testing.T) {
	ex := NewReadabilityExtractor(fetch.NewFetcher())

	_, err := ex.Extract(context.Background(), doc(`<html><body><script>x()</script><nav>menu</nav></body></html>`, "https://example.com/"))
	assert.ErrorIs(t, err, core.ErrExtractionFailure)
}

func TestSelectorExtractor_Extract(t *testing.T) {
	page := `<html><head><title>Docs</title></head><body>
		<header>Site</header>
		<div class="doc-body">  Install   the
		tool.   Then run it. <script>bad()</script></div>
		<div class="other">ignored</div>
	</body></html>`

	t.Run("first matching selector wins", func(t *testing.T) {
		ex := NewSelectorExtractor(fetch.NewFetcher(), ".missing", ".doc-body", ".other")
		result, err := ex.Extract(context.Background(), doc(page, "https://docs.example.com/"))
		require.NoError(t, err)
		assert.Equal(t, "Install the tool. Then run it.", result.Markdown)
		assert.Equal(t, result.Markdown, result.Text)
		assert.Equal(t, "Docs", result.Title)
	})

	t.Run("no selector matches", func(t *testing.T) {
		ex := NewSelectorExtractor(fetch.NewFetcher(), ".missing")
		_, err := ex.Extract(context.Background(), doc(page, "https://docs.example.com/"))
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrExtractionFailure)
		assert.Contains(t, err.Error(), "none of the provided selectors found content on the page")
	})
}

func TestPlainTextExtractor(t *testing.T) {
	ex := NewPlainTextExtractor(fetch.NewFetcher())

	assert.True(t, ex.CanHandle(mustParse(t, "https://example.com/a"), "text/plain; charset=utf-8"))
	assert.True(t, ex.CanHandle(mustParse(t, "https://example.com/README.md"), ""))
	assert.False(t, ex.CanHandle(mustParse(t, "https://example.com/README.md"), "text/html"))
	assert.False(t, ex.CanHandle(mustParse(t, "https://example.com/page"), ""))

	result, err := ex.Extract(context.Background(), &fetch.Result{Body: []byte("# Notes\r\n\r\nSome   text.\r\n")})
	require.NoError(t, err)
	assert.Equal(t, "Notes", result.Title)
	assert.Equal(t, "# Notes\n\nSome   text.", result.Markdown)
	assert.Equal(t, "# Notes Some text.", result.Text)

	_, err = ex.Extract(context.Background(), &fetch.Result{Body: []byte("  \n")})
	assert.ErrorIs(t, err, core.ErrExtractionFailure)
}

func TestDispatcher_Select(t *testing.T) {
	fetcher := fetch.NewFetcher()
	docs := NewSelectorExtractor(fetcher, ".doc-body")
	d := NewDefaultDispatcher(fetcher).ForHost("Docs.Example.com", docs)

	tests := []struct {
		name        string
		rawURL      string
		contentType string
		expected    string
		wantErr     bool
	}{
		{name: "unknown type goes to readability", rawURL: "https://example.com/a", expected: "readability"},
		{name: "html", rawURL: "https://example.com/a", contentType: "text/html; charset=utf-8", expected: "readability"},
		{name: "plain text", rawURL: "https://example.com/a", contentType: "text/plain", expected: "plaintext"},
		{name: "host rule", rawURL: "https://docs.example.com/guide", expected: "selector"},
		{name: "unsupported type", rawURL: "https://example.com/a.pdf", contentType: "application/pdf", wantErr: true},
		{name: "unsupported scheme", rawURL: "ftp://example.com/a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := d.Select(mustParse(t, tt.rawURL), tt.contentType)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrExtractionFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ex.Name())
		})
	}
}

func TestExtractor_FetchDelegates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articlePage))
	}))
	defer server.Close()

	ex := NewReadabilityExtractor(fetch.NewFetcher())
	fetched, err := ex.Fetch(context.Background(), mustParse(t, server.URL+"/p"), fetch.DefaultOptions())
	require.NoError(t, err)

	result, err := ex.Extract(context.Background(), fetched)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/posts/example", result.CanonicalURL)
}

func TestParseSelectorRules(t *testing.T) {
	rules, err := ParseSelectorRules(" Docs.example.com = .doc-body, article ; blog.example.com=.post;")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"docs.example.com": {".doc-body", "article"},
		"blog.example.com": {".post"},
	}, rules)

	_, err = ParseSelectorRules("nohost")
	assert.Error(t, err)
	_, err = ParseSelectorRules("a.com=")
	assert.Error(t, err)

	rules, err = ParseSelectorRules("")
	require.NoError(t, err)
	assert.Empty(t, rules)
}
