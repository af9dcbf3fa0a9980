// Package config defines the YAML configuration surface and its loading
// rules: environment expansion inside values, optional .env loading, and
// defaults/validation on every section.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seclens/seclens/pkg/registry"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ModelProvider identifies the model backend type.
type ModelProvider string

const (
	ProviderOpenAI    ModelProvider = "openai"
	ProviderAnthropic ModelProvider = "anthropic"
)

// Config is the root configuration.
type Config struct {
	Logger        LoggerConfig        `yaml:"logger,omitempty"`
	Model         ModelConfig         `yaml:"model,omitempty"`
	Database      DatabaseConfig      `yaml:"database,omitempty"`
	Server        ServerConfig        `yaml:"server,omitempty"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`

	// Tools declares servers and bindings inline for deployments without
	// a database; ignored when database.dsn is set.
	Tools ToolsConfig `yaml:"tools,omitempty"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// ModelConfig configures the model provider.
type ModelConfig struct {
	Provider ModelProvider `yaml:"provider,omitempty"`
	Model    string        `yaml:"model,omitempty"`

	// APIKey supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	// Timeout is the per-request timeout in seconds.
	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
	// RetryDelay is the base backoff in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty"`
}

// DatabaseConfig selects the registry backing store.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql. Empty means the registry
	// comes from the tools section instead.
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// ServerConfig configures the HTTP serving mode.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// OrchestratorConfig bounds orchestration runs.
type OrchestratorConfig struct {
	// BackendID scopes binding lookups.
	BackendID string `yaml:"backend_id,omitempty"`

	MaxIterations int `yaml:"max_iterations,omitempty"`

	// RunTimeout caps one whole run.
	RunTimeout Duration `yaml:"run_timeout,omitempty"`

	// ToolCallTimeout caps a single transport call.
	ToolCallTimeout Duration `yaml:"tool_call_timeout,omitempty"`
}

// ObservabilityConfig controls tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled bool `yaml:"tracing_enabled,omitempty"`
	// OTLPEndpoint is the gRPC collector address, e.g. localhost:4317.
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty"`
}

// ToolsConfig declares tool servers and bindings inline.
type ToolsConfig struct {
	Servers  []registry.ToolServer `yaml:"servers,omitempty"`
	Bindings []BindingConfig       `yaml:"bindings,omitempty"`
}

// BindingConfig is a ToolBinding plus the backend it belongs to.
type BindingConfig struct {
	BackendID            string `yaml:"backend_id"`
	registry.ToolBinding `yaml:",inline"`
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	c.Model.SetDefaults()
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Orchestrator.SetDefaults()
}

// SetDefaults applies model defaults, detecting the provider from the
// environment when unset.
func (c *ModelConfig) SetDefaults() {
	if c.Provider == "" {
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			c.Provider = ProviderAnthropic
		} else {
			c.Provider = ProviderOpenAI
		}
	}
	if c.APIKey == "" {
		switch c.Provider {
		case ProviderAnthropic:
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

// SetDefaults applies orchestrator defaults.
func (c *OrchestratorConfig) SetDefaults() {
	if c.BackendID == "" {
		c.BackendID = "default"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = Duration(5 * time.Minute)
	}
	if c.ToolCallTimeout == 0 {
		c.ToolCallTimeout = Duration(30 * time.Second)
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logger.level %q is not one of debug, info, warn, error", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logger.format %q is not one of text, json", c.Logger.Format)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("model.provider %q is not one of openai, anthropic", c.Model.Provider)
	}

	if c.Database.Driver != "" {
		switch c.Database.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			return fmt.Errorf("database.driver %q is not one of sqlite, postgres, mysql", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when database.driver is set")
		}
	}

	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator.max_iterations must be at least 1")
	}

	for i, srv := range c.Tools.Servers {
		if err := srv.Validate(); err != nil {
			return fmt.Errorf("tools.servers[%d]: %w", i, err)
		}
	}
	for i, b := range c.Tools.Bindings {
		if b.BackendID == "" {
			return fmt.Errorf("tools.bindings[%d]: backend_id is required", i)
		}
		if err := b.ToolBinding.Validate(); err != nil {
			return fmt.Errorf("tools.bindings[%d]: %w", i, err)
		}
	}
	return nil
}

// Load reads a YAML file, expands environment references in its text, and
// returns the validated configuration with defaults applied. An empty path
// yields the pure-default configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := ExpandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// BuildStore constructs a MemoryStore from the inline tools section.
func (c *ToolsConfig) BuildStore() (*registry.MemoryStore, error) {
	store := registry.NewMemoryStore()
	ctx := context.Background()
	for _, srv := range c.Servers {
		if err := store.UpsertServer(ctx, srv); err != nil {
			return nil, err
		}
	}
	for _, b := range c.Bindings {
		if err := store.UpsertBinding(ctx, b.BackendID, b.ToolBinding); err != nil {
			return nil, err
		}
	}
	return store, nil
}
