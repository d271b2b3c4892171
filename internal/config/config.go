package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://127.0.0.1:5173"`

	// Auth on the API. "none" leaves everything open (development);
	// "api-key" requires a Bearer key on mutating staging endpoints.
	AuthMode string `envconfig:"AUTH_MODE" default:"none"`
	APIKey   string `envconfig:"API_KEY"`

	// Workspace
	ProjectsDir string `envconfig:"PROJECTS_DIR" default:"./projects"`
	AuditDBPath string `envconfig:"AUDIT_DB_PATH" default:"./atelier.db"`

	// Approval flow: when true, pipeline and agent writes land in the
	// staging root and require an explicit promote.
	RequireApproval bool `envconfig:"REQUIRE_APPROVAL" default:"true"`

	// Generation
	AnthropicAPIKey   string        `envconfig:"ANTHROPIC_API_KEY"`
	Model             string        `envconfig:"MODEL" default:"claude-sonnet-4-5"`
	MaxTokens         int           `envconfig:"MAX_TOKENS" default:"4096"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"120s"`
	AgentMaxTurns     int           `envconfig:"AGENT_MAX_TURNS" default:"8"`
	ExecTimeout       time.Duration `envconfig:"EXEC_TIMEOUT" default:"30s"`

	// File preview
	PreviewMaxBytes  int64 `envconfig:"PREVIEW_MAX_BYTES" default:"204800"`
	PreviewCacheSize int   `envconfig:"PREVIEW_CACHE_SIZE" default:"256"`

	// Streaming
	StreamPingInterval time.Duration `envconfig:"STREAM_PING_INTERVAL" default:"15s"`
}

// GenerationEnabled returns true if an Anthropic API key is configured.
func (c *Config) GenerationEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
