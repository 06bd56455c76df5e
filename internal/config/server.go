package config

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIKeyHeader/APIKey gate the research endpoints. Empty APIKey disables
	// the gate (local development).
	APIKeyHeader string `yaml:"api_key_header"`
	APIKey       string `yaml:"api_key"`
}

// DefaultServerConfig returns the HTTP defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		APIKeyHeader: "X-API-Key",
	}
}
