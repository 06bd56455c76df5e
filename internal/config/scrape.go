package config

import "time"

// ScrapeConfig configures deep-page fetching.
type ScrapeConfig struct {
	TopK           int           `yaml:"top_k"`            // pages deep-scraped per query
	Concurrency    int           `yaml:"concurrency"`      // parallel fetches
	Timeout        time.Duration `yaml:"timeout"`          // per URL
	MaxTotalChars  int           `yaml:"max_total_chars"`  // LLM context cap
	MaxPerDocChars int           `yaml:"max_per_doc_chars"`
	UserAgent      string        `yaml:"user_agent"`
}

// DefaultScrapeConfig returns the scraping defaults.
func DefaultScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		TopK:           5,
		Concurrency:    5,
		Timeout:        20 * time.Second,
		MaxTotalChars:  80000,
		MaxPerDocChars: 20000,
		UserAgent:      "Mozilla/5.0 (DeepSearchBot/1.0; +https://example.com/bot)",
	}
}
