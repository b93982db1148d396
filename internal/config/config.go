package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Routes    RoutesConfig     `toml:"routes"`
	MCP       MCPConfig        `toml:"mcp"`
	Cache     CacheConfig      `toml:"cache"`
	Bridges   []BridgeConfig   `toml:"bridges"`
	Resources []ResourceConfig `toml:"resources"`
	Prompts   []PromptConfig   `toml:"prompts"`
	Logging   LoggingConfig    `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// RoutesConfig contains route discovery settings.
type RoutesConfig struct {
	Dir        string `toml:"dir"`
	DebounceMS int    `toml:"debounce_ms"`
	Watch      bool   `toml:"watch"`
}

// MCPConfig contains MCP transport settings.
type MCPConfig struct {
	// SocketAddr is the TCP listen address for the socket transport.
	// Empty disables the socket transport.
	SocketAddr string `toml:"socket_addr"`
	// Stdio enables the stdio transport. When enabled the process speaks
	// JSON-RPC on stdin/stdout, so console logging goes to stderr only.
	Stdio bool `toml:"stdio"`
}

// CacheConfig contains cache manager settings.
type CacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
}

// BridgeConfig describes one external MCP tool-provider process.
type BridgeConfig struct {
	ID             string            `toml:"id"`
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	Dir            string            `toml:"dir"`
	Env            map[string]string `toml:"env"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

// ResourceConfig declares a static MCP resource served from config.
type ResourceConfig struct {
	URI         string `toml:"uri"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	MIMEType    string `toml:"mime_type"`
	Content     string `toml:"content"`
}

// PromptConfig declares a static MCP prompt served from config.
type PromptConfig struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Content     string `toml:"content"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies ROUTEGATE_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("ROUTEGATE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ROUTEGATE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if dir := os.Getenv("ROUTEGATE_ROUTES_DIR"); dir != "" {
		config.Routes.Dir = dir
	}
	if addr := os.Getenv("ROUTEGATE_MCP_SOCKET"); addr != "" {
		config.MCP.SocketAddr = addr
	}
	if level := os.Getenv("ROUTEGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks mandatory configuration and returns human-readable issues.
func (c *Config) Validate() []string {
	var issues []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
	}
	if strings.TrimSpace(c.Routes.Dir) == "" {
		issues = append(issues, "routes.dir must be set to the route definition directory")
	}
	if c.Routes.DebounceMS < 0 {
		issues = append(issues, fmt.Sprintf("routes.debounce_ms must not be negative (got %d)", c.Routes.DebounceMS))
	}

	seen := make(map[string]bool, len(c.Bridges))
	for i, b := range c.Bridges {
		if strings.TrimSpace(b.ID) == "" {
			issues = append(issues, fmt.Sprintf("bridges[%d].id must be set", i))
			continue
		}
		if seen[b.ID] {
			issues = append(issues, fmt.Sprintf("bridges[%d].id %q is declared more than once", i, b.ID))
		}
		seen[b.ID] = true
		if strings.TrimSpace(b.Command) == "" {
			issues = append(issues, fmt.Sprintf("bridges[%d] (%s): command must be set", i, b.ID))
		}
	}

	for i, r := range c.Resources {
		if strings.TrimSpace(r.URI) == "" {
			issues = append(issues, fmt.Sprintf("resources[%d].uri must be set", i))
		}
	}
	for i, p := range c.Prompts {
		if strings.TrimSpace(p.Name) == "" {
			issues = append(issues, fmt.Sprintf("prompts[%d].name must be set", i))
		}
	}

	return issues
}
