package config

// ResearchConfig configures the research loop itself.
type ResearchConfig struct {
	InitialQueryCount int `yaml:"initial_query_count"` // initial-mode query target
	MaxLoops          int `yaml:"max_loops"`           // hard research-loop cap
}

// DefaultResearchConfig returns the loop defaults.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		InitialQueryCount: 3,
		MaxLoops:          5,
	}
}
