// Package config holds the service configuration, split per concern. Values
// come from the environment (a .env file is loaded when present, via
// godotenv) with an optional YAML file overlay for deployments that prefer
// files over environment blocks. Config is built once at startup and never
// mutated afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Research ResearchConfig `yaml:"research"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig controls the logging backend.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// Default returns the built-in defaults for every concern.
func Default() Config {
	return Config{
		Server:   DefaultServerConfig(),
		LLM:      DefaultLLMConfig(),
		Search:   DefaultSearchConfig(),
		Scrape:   DefaultScrapeConfig(),
		Research: DefaultResearchConfig(),
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path (empty path skips the overlay), then environment variables. A .env
// file in the working directory is loaded first so that local development
// works without exporting anything.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Server.Addr, "DEEPSEARCH_ADDR")
	envString(&c.Server.APIKeyHeader, "DEEPSEARCH_API_KEY_HEADER")
	envString(&c.Server.APIKey, "DEEPSEARCH_API_KEY")

	envString(&c.LLM.Primary.BaseURL, "PRIMARY_LLM_BASE_URL")
	envString(&c.LLM.Primary.APIKey, "PRIMARY_LLM_API_KEY")
	envString(&c.LLM.Primary.Model, "PRIMARY_LLM_MODEL")
	envString(&c.LLM.Secondary.BaseURL, "SECONDARY_LLM_BASE_URL")
	envString(&c.LLM.Secondary.APIKey, "SECONDARY_LLM_API_KEY")
	envString(&c.LLM.Secondary.Model, "SECONDARY_LLM_MODEL")
	envSeconds(&c.LLM.Timeout, "LLM_TIMEOUT_SECONDS")

	envString(&c.Search.BaseURL, "SEARCH_BASE_URL")
	envString(&c.Search.APIKey, "SEARCH_API_KEY")

	envInt(&c.Scrape.TopK, "WEB_SCRAPE_TOP_K")
	envInt(&c.Scrape.Concurrency, "WEB_SCRAPE_CONCURRENCY")
	envSeconds(&c.Scrape.Timeout, "WEB_SCRAPE_TIMEOUT_SECONDS")
	envInt(&c.Scrape.MaxTotalChars, "WEB_SCRAPE_MAX_TOTAL_CHARS")
	envInt(&c.Scrape.MaxPerDocChars, "WEB_SCRAPE_MAX_PER_DOC_CHARS")
	envString(&c.Scrape.UserAgent, "WEB_SCRAPE_USER_AGENT")

	envInt(&c.Research.InitialQueryCount, "INITIAL_SEARCH_QUERY_COUNT")
	envInt(&c.Research.MaxLoops, "MAX_RESEARCH_LOOPS")

	envString(&c.Logging.Level, "LOG_LEVEL")
	envBool(&c.Logging.JSONFormat, "LOG_JSON")
}

// Validate checks ranges and the critical keys without which the service
// cannot do useful work. Callers that never reach the network (tests, the
// one-shot CLI in dry-run mode) construct Config directly and skip this.
func (c *Config) Validate() error {
	if c.LLM.Primary.APIKey == "" {
		return fmt.Errorf("config: PRIMARY_LLM_API_KEY is required")
	}
	if c.Search.APIKey == "" {
		return fmt.Errorf("config: SEARCH_API_KEY is required")
	}
	if c.Research.InitialQueryCount < 1 || c.Research.InitialQueryCount > 10 {
		return fmt.Errorf("config: INITIAL_SEARCH_QUERY_COUNT must be in [1,10], got %d", c.Research.InitialQueryCount)
	}
	if c.Research.MaxLoops < 1 || c.Research.MaxLoops > 5 {
		return fmt.Errorf("config: MAX_RESEARCH_LOOPS must be in [1,5], got %d", c.Research.MaxLoops)
	}
	if c.Scrape.Concurrency < 1 {
		return fmt.Errorf("config: WEB_SCRAPE_CONCURRENCY must be >= 1, got %d", c.Scrape.Concurrency)
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
