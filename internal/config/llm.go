package config

import "time"

// LLMEndpoint describes one OpenAI-compatible chat-completions endpoint.
type LLMEndpoint struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// LLMConfig configures the primary/secondary model pair. The primary carries
// the research session until it fails twice in a row; from then on the
// session runs on the secondary only.
type LLMConfig struct {
	Primary   LLMEndpoint `yaml:"primary"`
	Secondary LLMEndpoint `yaml:"secondary"`
	// Timeout applies per request. Long reasoning models routinely take
	// minutes, hence the large default.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultLLMConfig returns the model-pair defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Primary: LLMEndpoint{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		Secondary: LLMEndpoint{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Timeout: 600 * time.Second,
	}
}
