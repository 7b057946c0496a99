// Package config loads the SpeakNode runtime configuration.
//
// Resolution order: built-in defaults, then an optional YAML file, then
// SPEAKNODE_* environment variables. Validate catches bad values before
// anything opens a store or binds a port.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
)

// Isolation strategies selectable in configuration.
const (
	IsolationScoped     = "scoped"      // shared store per chat, scoped keys
	IsolationPerMeeting = "per-meeting" // one store per meeting, plain keys
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir is the root under which scope stores live.
	DataDir string `yaml:"data_dir"`
	// Isolation selects the key scoping strategy.
	Isolation string `yaml:"isolation"`

	EmbeddingDim      int `yaml:"embedding_dim"`
	ImportMaxBytes    int `yaml:"import_max_bytes"`
	ImportMaxElements int `yaml:"import_max_elements"`
	SearchTopK        int `yaml:"search_top_k"`

	HTTP HTTPConfig `yaml:"http"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
	// MaxBodyBytes bounds request bodies; imports are re-checked against
	// ImportMaxBytes afterwards.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:           "./data",
		Isolation:         IsolationScoped,
		EmbeddingDim:      graph.DefaultEmbeddingDim,
		ImportMaxBytes:    graph.DefaultMaxDumpBytes,
		ImportMaxElements: graph.DefaultMaxDumpElements,
		SearchTopK:        5,
		HTTP: HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8756,
			CORSOrigins:  []string{"*"},
			MaxBodyBytes: 64 << 20,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (empty path skips it), and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DataDir, "SPEAKNODE_DATA_DIR")
	setString(&c.Isolation, "SPEAKNODE_ISOLATION")
	setInt(&c.EmbeddingDim, "SPEAKNODE_EMBEDDING_DIM")
	setInt(&c.ImportMaxBytes, "SPEAKNODE_IMPORT_MAX_BYTES")
	setInt(&c.ImportMaxElements, "SPEAKNODE_IMPORT_MAX_ELEMENTS")
	setInt(&c.SearchTopK, "SPEAKNODE_SEARCH_TOP_K")
	setString(&c.HTTP.Host, "SPEAKNODE_HTTP_HOST")
	setInt(&c.HTTP.Port, "SPEAKNODE_HTTP_PORT")
	setString(&c.LogLevel, "SPEAKNODE_LOG_LEVEL")
	if v := os.Getenv("SPEAKNODE_CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = splitTrim(v)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Isolation != IsolationScoped && c.Isolation != IsolationPerMeeting {
		return fmt.Errorf("isolation must be %q or %q, got %q",
			IsolationScoped, IsolationPerMeeting, c.Isolation)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.ImportMaxBytes <= 0 {
		return fmt.Errorf("import_max_bytes must be positive, got %d", c.ImportMaxBytes)
	}
	if c.ImportMaxElements <= 0 {
		return fmt.Errorf("import_max_elements must be positive, got %d", c.ImportMaxElements)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("search_top_k must be positive, got %d", c.SearchTopK)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port out of range: %d", c.HTTP.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// StoreOptions derives the per-scope store options.
func (c *Config) StoreOptions() graph.Options {
	opts := graph.Options{
		EmbeddingDim:    c.EmbeddingDim,
		MaxDumpBytes:    c.ImportMaxBytes,
		MaxDumpElements: c.ImportMaxElements,
	}
	if c.Isolation == IsolationPerMeeting {
		opts.Scoper = schema.PlainKeys{}
	}
	return opts
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
