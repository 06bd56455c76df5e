// Package scraper fetches web pages and reduces them to clean article text
// for LLM consumption. Fetches run under a bounded semaphore with a per-host
// politeness limiter; any single page failing never fails the batch.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"deepsearch/internal/config"
	"deepsearch/internal/logging"
)

const maxBodyBytes = 8 << 20

// Document is the outcome of fetching one URL. Err is set when the fetch or
// extraction failed; Content is then empty.
type Document struct {
	URL     string
	Title   string
	Content string
	Err     error
}

// Scraper fetches and extracts pages.
type Scraper struct {
	cfg  config.ScrapeConfig
	http *http.Client

	sem *semaphore.Weighted

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a scraper from config.
func New(cfg config.ScrapeConfig) *Scraper {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scraper{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchMany fetches all URLs concurrently and returns documents in input
// order. Individual failures are recorded on the document, never returned.
func (s *Scraper) FetchMany(ctx context.Context, urls []string) []Document {
	docs := make([]Document, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				docs[i] = Document{URL: u, Err: err}
				return nil
			}
			defer s.sem.Release(1)
			docs[i] = s.fetchOne(gctx, u)
			return nil
		})
	}
	g.Wait()
	return docs
}

// Fetch fetches a single URL.
func (s *Scraper) Fetch(ctx context.Context, pageURL string) Document {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Document{URL: pageURL, Err: err}
	}
	defer s.sem.Release(1)
	return s.fetchOne(ctx, pageURL)
}

func (s *Scraper) fetchOne(ctx context.Context, pageURL string) Document {
	doc := Document{URL: pageURL}

	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		doc.Err = fmt.Errorf("unsupported url %q", pageURL)
		return doc
	}

	if err := s.hostLimiter(parsed.Host).Wait(ctx); err != nil {
		doc.Err = err
		return doc
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		doc.Err = err
		return doc
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.http.Do(req)
	if err != nil {
		doc.Err = err
		logging.ScraperWarn("fetch failed for %s: %v", pageURL, err)
		return doc
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		doc.Err = fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
		return doc
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		doc.Err = fmt.Errorf("fetch %s: unsupported content type %q", pageURL, ct)
		return doc
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		doc.Err = err
		return doc
	}

	title, content, err := Extract(string(body))
	if err != nil {
		doc.Err = err
		return doc
	}
	doc.Title = title
	doc.Content = CleanAndTruncate(content, s.cfg.MaxPerDocChars)
	logging.Scraper("fetched %s: %d chars in %s", pageURL, utf8.RuneCountInString(doc.Content), time.Since(start).Round(time.Millisecond))
	return doc
}

// hostLimiter returns the per-host politeness limiter, creating it lazily.
// One request per second with a burst of two keeps us friendly to any single
// origin even when many results share a host.
func (s *Scraper) hostLimiter(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 2)
		s.limiters[host] = l
	}
	return l
}

// JoinDocuments concatenates scraped content into one LLM context block,
// respecting the total character cap. Failed documents are skipped.
func JoinDocuments(docs []Document, maxTotalChars int) string {
	var b strings.Builder
	used := 0
	for _, d := range docs {
		if d.Err != nil || d.Content == "" {
			continue
		}
		remaining := maxTotalChars - used
		if remaining <= 0 {
			break
		}
		block := fmt.Sprintf("--- %s (%s) ---\n%s\n\n", d.Title, d.URL, d.Content)
		if utf8.RuneCountInString(block) > remaining {
			block = CleanAndTruncate(block, remaining)
		}
		b.WriteString(block)
		used += utf8.RuneCountInString(block)
	}
	return strings.TrimRight(b.String(), "\n")
}
