// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilops/vigil/internal/telemetry"
)

// Environment overrides for secrets. Values set here win over the file.
const (
	EnvAPIKey       = "VIGIL_ANTHROPIC_API_KEY"
	EnvSlackWebhook = "VIGIL_SLACK_WEBHOOK"
	EnvPostgresURL  = "VIGIL_POSTGRES_URL"
)

// Config is the complete daemon configuration. Components receive the
// section they need at construction; nothing reads it globally.
type Config struct {
	Session   SessionConfig   `yaml:"session" json:"session"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Monitor   MonitorConfig   `yaml:"monitor" json:"monitor"`
	Collect   CollectConfig   `yaml:"collect" json:"collect"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// SessionConfig controls the conversation session and its pruning.
type SessionConfig struct {
	// ID resumes a specific session. Empty generates a fresh one.
	ID               string   `yaml:"id,omitempty" json:"id,omitempty"`
	MaxTokens        int      `yaml:"max_tokens" json:"max_tokens"`
	SmartPrune       bool     `yaml:"smart_prune" json:"smart_prune"`
	KeepRecent       int      `yaml:"keep_recent,omitempty" json:"keep_recent,omitempty"`
	CriticalKeywords []string `yaml:"critical_keywords,omitempty" json:"critical_keywords,omitempty"`
	SystemPrompt     string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Backend   string   `yaml:"backend" json:"backend"`
	Dir       string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Path      string   `yaml:"path,omitempty" json:"path,omitempty"`
	URL       string   `yaml:"url,omitempty" json:"url,omitempty"`
	Table     string   `yaml:"table,omitempty" json:"table,omitempty"`
	Bucket    string   `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix    string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendEtcd     = "etcd"
)

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model" json:"model"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// MonitorConfig controls cycle scheduling and escalation.
type MonitorConfig struct {
	// Interval between cycles ("5m"). Schedule, when set, is a cron
	// expression and wins over Interval.
	Interval       string `yaml:"interval,omitempty" json:"interval,omitempty"`
	Schedule       string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Cluster        string `yaml:"cluster,omitempty" json:"cluster,omitempty"`
	RulesFile      string `yaml:"rules_file,omitempty" json:"rules_file,omitempty"`
	DebounceCycles int    `yaml:"debounce_cycles" json:"debounce_cycles"`
}

// Every returns the parsed cycle interval. Call Validate first.
func (m MonitorConfig) Every() time.Duration {
	d, err := time.ParseDuration(m.Interval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// CollectConfig configures observation sources. A non-empty Static
// replaces cluster collection with fixed text for dry runs.
type CollectConfig struct {
	Kubeconfig string   `yaml:"kubeconfig,omitempty" json:"kubeconfig,omitempty"`
	Namespaces []string `yaml:"namespaces,omitempty" json:"namespaces,omitempty"`
	MaxEvents  int      `yaml:"max_events,omitempty" json:"max_events,omitempty"`
	Static     string   `yaml:"static,omitempty" json:"static,omitempty"`
}

// NotifyConfig configures escalation delivery. An empty webhook falls
// back to log-only notification.
type NotifyConfig struct {
	SlackWebhook string `yaml:"slack_webhook,omitempty" json:"slack_webhook,omitempty"`
}

// TelemetryConfig configures logging, metrics, and spans.
type TelemetryConfig struct {
	LogLevel   string `yaml:"log_level" json:"log_level"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	TraceSpans bool   `yaml:"trace_spans,omitempty" json:"trace_spans,omitempty"`
}

// Default returns the configuration used when fields are omitted.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxTokens:    10000,
			SmartPrune:   true,
			KeepRecent:   10,
			SystemPrompt: "You are a monitoring agent watching a Kubernetes cluster. Each cycle you receive a status report. Reply with a short assessment; start the line with CRITICAL if operator attention is needed.",
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     "/var/lib/vigil/sessions",
		},
		LLM: LLMConfig{
			Provider:  ProviderAnthropic,
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Monitor: MonitorConfig{
			Interval:       "5m",
			DebounceCycles: 3,
		},
		Telemetry: TelemetryConfig{
			LogLevel:   "info",
			ListenAddr: ":2112",
		},
	}
}

// Load reads, parses, and validates the configuration at path, with
// environment overrides applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration data from YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvSlackWebhook); v != "" {
		c.Notify.SlackWebhook = v
	}
	if v := os.Getenv(EnvPostgresURL); v != "" {
		c.Store.URL = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Session.MaxTokens <= 0 {
		return fmt.Errorf("config: session.max_tokens must be positive")
	}
	if c.Session.KeepRecent < 0 {
		return fmt.Errorf("config: session.keep_recent must not be negative")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Dir == "" {
			return fmt.Errorf("config: store.dir is required for the file backend")
		}
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.URL == "" {
			return fmt.Errorf("config: store.url is required for the postgres backend")
		}
	case BackendS3:
		if c.Store.Bucket == "" {
			return fmt.Errorf("config: store.bucket is required for the s3 backend")
		}
	case BackendEtcd:
		if len(c.Store.Endpoints) == 0 {
			return fmt.Errorf("config: store.endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderMock:
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config: llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config: llm.max_tokens must be positive")
	}

	if c.Monitor.Schedule == "" {
		if _, err := time.ParseDuration(c.Monitor.Interval); err != nil {
			return fmt.Errorf("config: invalid monitor.interval %q: %w", c.Monitor.Interval, err)
		}
	}
	if c.Monitor.DebounceCycles < 0 {
		return fmt.Errorf("config: monitor.debounce_cycles must not be negative")
	}

	if _, err := telemetry.ParseLevel(c.Telemetry.LogLevel); err != nil {
		return fmt.Errorf("config: invalid telemetry.log_level %q", c.Telemetry.LogLevel)
	}
	if c.Telemetry.ListenAddr == "" {
		return fmt.Errorf("config: telemetry.listen_addr is required")
	}
	return nil
}
