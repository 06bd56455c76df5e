package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepsearch/internal/config"
)

func testConfig() config.ScrapeConfig {
	cfg := config.DefaultScrapeConfig()
	cfg.Timeout = 2 * time.Second
	return cfg
}

const articlePage = `<!DOCTYPE html>
<html><head><title>Go Concurrency Patterns</title></head>
<body>
<nav>Home | About | Contact navigation junk</nav>
<article class="post-content">
<p>Goroutines are lightweight threads managed by the Go runtime. They make it
practical to structure programs as collections of independently executing
functions that communicate over channels.</p>
<p>Channels are typed conduits. Senders and receivers synchronize without
explicit locks, which keeps concurrent code easy to reason about.</p>
</article>
<footer>Copyright footer junk that should never appear</footer>
<script>trackPageView()</script>
</body></html>`

func TestFetchManyExtractsAndOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(articlePage))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := New(testConfig())
	docs := s.FetchMany(context.Background(), []string{srv.URL + "/good", srv.URL + "/missing"})
	require.Len(t, docs, 2)

	good := docs[0]
	require.NoError(t, good.Err)
	assert.Equal(t, "Go Concurrency Patterns", good.Title)
	assert.Contains(t, good.Content, "Goroutines are lightweight threads")
	assert.NotContains(t, good.Content, "navigation junk")
	assert.NotContains(t, good.Content, "footer junk")
	assert.NotContains(t, good.Content, "trackPageView")

	require.Error(t, docs[1].Err)
	assert.Contains(t, docs[1].Err.Error(), "status 404")
}

func TestFetchRejectsNonHTTPSchemes(t *testing.T) {
	s := New(testConfig())
	doc := s.Fetch(context.Background(), "ftp://example.com/file")
	require.Error(t, doc.Err)
}

func TestFetchRejectsNonHTMLContentType(t *testing.T) {
	for _, ct := range []string{"application/pdf", "text/plain", "application/json"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", ct)
			w.Write([]byte("not html"))
		}))

		doc := New(testConfig()).Fetch(context.Background(), srv.URL)
		srv.Close()
		require.Error(t, doc.Err, "content type %q", ct)
		assert.Contains(t, doc.Err.Error(), "content type")
	}
}

func TestFetchAcceptsHTMLWithCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	doc := New(testConfig()).Fetch(context.Background(), srv.URL)
	require.NoError(t, doc.Err)
	assert.Contains(t, doc.Content, "Goroutines")
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.UserAgent = "ResearchBot/2.0"
	New(cfg).Fetch(context.Background(), srv.URL)
	assert.Equal(t, "ResearchBot/2.0", gotUA)
}

func TestExtractFallbackOnThinCandidate(t *testing.T) {
	// No block container holds enough text, so extraction must fall back to
	// gathering paragraph text directly.
	page := `<html><head><title>T</title></head><body>
	<span><p>first fragment of paragraph text scattered outside containers</p></span>
	<span><p>second fragment of paragraph text also outside any real container</p></span>
	</body></html>`
	_, content, err := Extract(page)
	require.NoError(t, err)
	assert.Contains(t, content, "first fragment")
	assert.Contains(t, content, "second fragment")
}

func TestCleanAndTruncate(t *testing.T) {
	t.Run("under cap unchanged", func(t *testing.T) {
		assert.Equal(t, "short text", CleanAndTruncate("short   text", 100))
	})

	t.Run("cuts at sentence ender in tail", func(t *testing.T) {
		text := strings.Repeat("a", 80) + ". " + strings.Repeat("b", 40)
		out := CleanAndTruncate(text, 100)
		assert.True(t, strings.HasSuffix(out, "."), "got %q", out)
		assert.LessOrEqual(t, len(out), 100)
	})

	t.Run("falls back to space in tail", func(t *testing.T) {
		text := strings.Repeat("a", 90) + " " + strings.Repeat("b", 40)
		out := CleanAndTruncate(text, 100)
		assert.Equal(t, strings.Repeat("a", 90), out)
	})

	t.Run("hard cut when no break point in tail", func(t *testing.T) {
		out := CleanAndTruncate(strings.Repeat("x", 500), 100)
		assert.Len(t, out, 100)
	})

	t.Run("cjk sentence ender", func(t *testing.T) {
		head := strings.Repeat("字", 30) + "。"
		text := head + strings.Repeat("尾", 20)
		out := CleanAndTruncate(text, 35)
		assert.Equal(t, head, out)
	})

	t.Run("cjk hard cut lands on rune boundary", func(t *testing.T) {
		out := CleanAndTruncate(strings.Repeat("深度研究管道", 100), 50)
		assert.True(t, utf8.ValidString(out), "got %q", out)
		assert.Equal(t, 50, utf8.RuneCountInString(out))
	})

	t.Run("cap counts runes not bytes", func(t *testing.T) {
		text := strings.Repeat("研", 40)
		assert.Equal(t, text, CleanAndTruncate(text, 40))
	})
}

func TestJoinDocumentsRespectsTotalCap(t *testing.T) {
	docs := []Document{
		{URL: "https://a", Title: "A", Content: strings.Repeat("alpha sentence. ", 20)},
		{URL: "https://b", Title: "B", Err: assert.AnError},
		{URL: "https://c", Title: "C", Content: strings.Repeat("gamma sentence. ", 20)},
	}
	out := JoinDocuments(docs, 200)
	assert.LessOrEqual(t, len(out), 200)
	assert.Contains(t, out, "https://a")
	assert.NotContains(t, out, "https://b")
}

func TestJoinDocumentsSkipsFailuresEntirely(t *testing.T) {
	docs := []Document{
		{URL: "https://bad", Err: assert.AnError},
		{URL: "https://good", Title: "G", Content: "usable content here"},
	}
	out := JoinDocuments(docs, 10000)
	assert.Contains(t, out, "usable content here")
	assert.NotContains(t, out, "bad")
}
