// Package config handles Think configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/Think/config.yaml, ~/.config/think/config.yaml,
// /etc/think/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, "Think", "config.yaml"),
			filepath.Join(home, ".config", "think", "config.yaml"),
		)
	}

	paths = append(paths, "/etc/think/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Think configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	DataDir    string           `yaml:"data_dir"`
	Database   DatabaseConfig   `yaml:"database"`
	Drive      DriveConfig      `yaml:"drive"`
	Models     ModelsConfig     `yaml:"models"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Agent      AgentConfig      `yaml:"agent"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig selects the SQLite driver and file for the
// conversation store.
type DatabaseConfig struct {
	// Driver is the database/sql driver name: "sqlite" (pure Go,
	// default) or "sqlite3" (cgo).
	Driver string `yaml:"driver"`
	// Path is the database file. Defaults to <data_dir>/think.db.
	Path string `yaml:"path"`
}

// DriveConfig defines the sandbox root the file tools operate in.
type DriveConfig struct {
	Root             string   `yaml:"root"`
	BinaryExtensions []string `yaml:"binary_extensions"`
}

// ModelsConfig defines model tiers and routing. A requested model
// containing "pro" resolves to Pro; everything else resolves to Flash.
type ModelsConfig struct {
	Flash     string        `yaml:"flash"`
	Pro       string        `yaml:"pro"`
	Summary   string        `yaml:"summary"` // defaults to Flash
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig routes a single model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // gemini, anthropic, ollama
}

// ProvidersConfig holds credentials and endpoints per provider.
type ProvidersConfig struct {
	Default   string          `yaml:"default"` // provider for unlisted models
	Gemini    GeminiConfig    `yaml:"gemini"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

// GeminiConfig defines Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Gemini API key is present.
func (c GeminiConfig) Configured() bool { return c.APIKey != "" }

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an Anthropic API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// OllamaConfig defines the local Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// AgentConfig controls the per-request agent loop.
type AgentConfig struct {
	MaxTurns      int `yaml:"max_turns"`
	HistoryWindow int `yaml:"history_window"`
	// SystemPromptFile is read at startup; the built-in prompt is used
	// when it is empty or missing.
	SystemPromptFile string `yaml:"system_prompt_file"`
	// LegacyParentFallback continues from the chat's last stored
	// message when a request omits parent_message_id entirely. Pointer
	// so an explicit false survives defaulting.
	LegacyParentFallback *bool `yaml:"legacy_parent_fallback"`
}

// ParentFallback reports the effective legacy fallback setting.
func (c AgentConfig) ParentFallback() bool {
	return c.LegacyParentFallback == nil || *c.LegacyParentFallback
}

// SummarizerConfig controls background session summaries.
type SummarizerConfig struct {
	Enabled   *bool         `yaml:"enabled"`
	Timeout   time.Duration `yaml:"timeout"`
	PerMinute int           `yaml:"per_minute"`
}

// IsEnabled reports whether summaries run. Enabled unless set to false.
func (c SummarizerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MQTTConfig defines the optional MQTT notifier.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceName  string `yaml:"device_name"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file. A .env file beside the
// config and one in the working directory are loaded first so that
// ${VAR} references can resolve to them; variables already present in
// the environment are never overridden.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		// godotenv.Load leaves existing variables alone.
		_ = godotenv.Load(abs)
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "think.db")
	}
	if c.Drive.Root == "" {
		c.Drive.Root = "./drive_data"
	}
	if len(c.Drive.BinaryExtensions) == 0 {
		c.Drive.BinaryExtensions = []string{".db", ".png", ".jpg", ".jpeg", ".zip", ".exe", ".pdf"}
	}
	if c.Models.Flash == "" {
		c.Models.Flash = "gemini-2.5-flash"
	}
	if c.Models.Pro == "" {
		c.Models.Pro = "gemini-2.5-pro"
	}
	if c.Models.Summary == "" {
		c.Models.Summary = c.Models.Flash
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "gemini"
	}
	if c.Providers.Ollama.URL == "" {
		c.Providers.Ollama.URL = "http://localhost:11434"
	}
	if c.Agent.MaxTurns == 0 {
		c.Agent.MaxTurns = 5
	}
	if c.Agent.HistoryWindow == 0 {
		c.Agent.HistoryWindow = 20
	}
	if c.Summarizer.Timeout == 0 {
		c.Summarizer.Timeout = 60 * time.Second
	}
	if c.Summarizer.PerMinute == 0 {
		c.Summarizer.PerMinute = 30
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "think"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "think"
	}
}

var knownProviders = map[string]bool{"gemini": true, "anthropic": true, "ollama": true}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unknown database.driver %q (valid: sqlite, sqlite3)", c.Database.Driver)
	}
	if !knownProviders[c.Providers.Default] {
		return fmt.Errorf("unknown providers.default %q", c.Providers.Default)
	}
	for _, m := range c.Models.Available {
		if !knownProviders[strings.ToLower(m.Provider)] {
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.HistoryWindow < 0 {
		return fmt.Errorf("agent.history_window must be positive, got %d", c.Agent.HistoryWindow)
	}
	return nil
}
