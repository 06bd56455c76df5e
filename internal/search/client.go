// Package search wraps the web-search provider's JSON API. Results come back
// ranked; the caller decides how many to deep-scrape. All provider failures
// map onto a small set of error kinds so the research loop can report them
// without leaking HTTP plumbing.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deepsearch/internal/config"
	"deepsearch/internal/logging"
)

// Result is one ranked web-search hit.
type Result struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Summary   string `json:"summary"`
	Snippet   string `json:"snippet"`
	SiteName  string `json:"site_name"`
	CrawlDate string `json:"crawl_date"`
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindConfigMissing ErrorKind = "config_missing" // endpoint or key unset
	KindUpstreamHTTP  ErrorKind = "upstream_http"  // non-200 HTTP status
	KindUpstreamCode  ErrorKind = "upstream_code"  // provider-level error code
	KindNetwork       ErrorKind = "network"        // transport, timeout, decode
)

// Error is a classified provider failure.
type Error struct {
	Kind  ErrorKind
	Query string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("web search %s (%q): %v", e.Kind, e.Query, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Client talks to the search provider.
type Client struct {
	cfg  config.SearchConfig
	http *http.Client
}

// NewClient builds a provider client from config.
func NewClient(cfg config.SearchConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchRequest struct {
	Query     string `json:"query"`
	Freshness string `json:"freshness"`
	Summary   bool   `json:"summary"`
	Count     int    `json:"count"`
}

type searchResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		WebPages struct {
			Value []struct {
				Name            string `json:"name"`
				URL             string `json:"url"`
				Summary         string `json:"summary"`
				Snippet         string `json:"snippet"`
				SiteName        string `json:"siteName"`
				DateLastCrawled string `json:"dateLastCrawled"`
			} `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

// Search runs one query and returns up to count ranked results.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return nil, &Error{Kind: KindConfigMissing, Query: query, Err: errors.New("search endpoint or api key not configured")}
	}
	if count <= 0 {
		count = 10
	}
	body, err := json.Marshal(searchRequest{
		Query:     query,
		Freshness: "noLimit",
		Summary:   true,
		Count:     count,
	})
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Query: query, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Query: query, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return nil, &Error{Kind: KindUpstreamHTTP, Query: query, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, &Error{Kind: KindNetwork, Query: query, Err: err}
	}
	if payload.Code != 200 {
		return nil, &Error{Kind: KindUpstreamCode, Query: query, Err: fmt.Errorf("provider code %d: %s", payload.Code, payload.Message)}
	}

	results := make([]Result, 0, len(payload.Data.WebPages.Value))
	for _, v := range payload.Data.WebPages.Value {
		if v.URL == "" {
			continue
		}
		results = append(results, Result{
			Title:     v.Name,
			URL:       v.URL,
			Summary:   v.Summary,
			Snippet:   v.Snippet,
			SiteName:  v.SiteName,
			CrawlDate: v.DateLastCrawled,
		})
	}
	logging.Search("query %q returned %d results in %s", query, len(results), time.Since(start).Round(time.Millisecond))
	return results, nil
}

// FormatResults renders results as numbered citation blocks. This text is
// the LLM context fallback when deep scraping returns nothing.
func FormatResults(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		text := r.Summary
		if text == "" {
			text = r.Snippet
		}
		fmt.Fprintf(&b, "[citation %d]\nTitle: %s\nURL: %s\nSite: %s\nCrawled: %s\nContent: %s\n\n",
			i+1, r.Title, r.URL, r.SiteName, r.CrawlDate, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func drain(r io.Reader) {
	io.Copy(io.Discard, io.LimitReader(r, 1<<16))
}
