package config

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 4310,
			Host: "localhost",
		},
		Routes: RoutesConfig{
			Dir:        "./routes",
			DebounceMS: 300,
			Watch:      true,
		},
		MCP: MCPConfig{
			SocketAddr: "",
			Stdio:      false,
		},
		Cache: CacheConfig{
			TTLSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console", "file"},
		},
	}
}
