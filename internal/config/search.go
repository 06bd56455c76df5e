package config

import "time"

// SearchConfig configures the web-search provider client.
type SearchConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSearchConfig returns the search provider defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		BaseURL: "https://api.bochaai.com/v1/web-search",
		Timeout: 30 * time.Second,
	}
}
