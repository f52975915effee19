// Package config handles configuration loading and management for taskloom.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Planner providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderFile      = "file"
)

// Config holds all configuration for taskloom.
type Config struct {
	Session      SessionConfig      `mapstructure:"session"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	State        StateConfig        `mapstructure:"state"`
	Log          LogConfig          `mapstructure:"log"`
	Events       EventsConfig       `mapstructure:"events"`
	Tools        ToolsConfig        `mapstructure:"tools"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	HistorySize   int           `mapstructure:"history_size"`
}

// ExecutorConfig holds tool dispatch settings.
type ExecutorConfig struct {
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	// MaxConcurrency bounds tools running at once within a group. 0 is unbounded.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// ConfirmationConfig holds settings for suspended runs.
type ConfirmationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PlannerConfig selects and configures the planner.
type PlannerConfig struct {
	// Provider is anthropic, openai or file.
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	// PlanFile is read by the file provider.
	PlanFile string `mapstructure:"plan_file"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// OpenAIConfig holds settings for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig holds debug log settings.
type LogConfig struct {
	// Path overrides .taskloom/logs/engine-debug.log.
	Path string `mapstructure:"path"`
}

// EventsConfig holds progress event sink settings.
type EventsConfig struct {
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
	// JSONLPath appends every event as one JSON line when set.
	JSONLPath string `mapstructure:"jsonl_path"`
}

// ToolsConfig locates the tool catalog.
type ToolsConfig struct {
	Catalog string `mapstructure:"catalog"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, TASKLOOM_*)
// 2. Project config (.taskloom.yaml in current directory or parent)
// 3. User config (~/.config/taskloom/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return decode(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return decode(v)
}

func bindEnv(v *viper.Viper) {
	// TASKLOOM_SESSION_TTL overrides session.ttl, and so on.
	v.SetEnvPrefix("TASKLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "TASKLOOM_ANTHROPIC_API_KEY")
	v.BindEnv("openai.api_key", "OPENAI_API_KEY", "TASKLOOM_OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL", "TASKLOOM_OPENAI_BASE_URL")
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Planner.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderFile:
	default:
		return fmt.Errorf("invalid config: planner.provider %q (want %s, %s or %s)",
			c.Planner.Provider, ProviderAnthropic, ProviderOpenAI, ProviderFile)
	}
	if c.Planner.Provider == ProviderFile && c.Planner.PlanFile == "" {
		return fmt.Errorf("invalid config: planner.plan_file is required for the file provider")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("invalid config: session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.HistorySize <= 0 {
		return fmt.Errorf("invalid config: session.history_size must be positive, got %d", c.Session.HistorySize)
	}
	if c.Executor.ToolTimeout < 0 || c.Confirmation.Timeout < 0 || c.Session.SweepInterval < 0 {
		return fmt.Errorf("invalid config: timeouts must not be negative")
	}
	if c.Executor.MaxConcurrency < 0 {
		return fmt.Errorf("invalid config: executor.max_concurrency must not be negative")
	}
	return nil
}

// Save writes the configuration to the user config file. API keys are
// written as given, so prefer ${VAR} references.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveToPath(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveToPath writes the configuration to path.
func SaveToPath(cfg *Config, path string) error {
	v := toViper(cfg)
	v.SetConfigFile(path)
	return v.WriteConfig()
}

func toViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.Set("session.ttl", cfg.Session.TTL.String())
	v.Set("session.sweep_interval", cfg.Session.SweepInterval.String())
	v.Set("session.history_size", cfg.Session.HistorySize)
	v.Set("executor.tool_timeout", cfg.Executor.ToolTimeout.String())
	v.Set("executor.max_concurrency", cfg.Executor.MaxConcurrency)
	v.Set("confirmation.timeout", cfg.Confirmation.Timeout.String())
	v.Set("planner.provider", cfg.Planner.Provider)
	v.Set("planner.model", cfg.Planner.Model)
	v.Set("planner.use_bedrock", cfg.Planner.UseBedrock)
	v.Set("planner.aws_region", cfg.Planner.AWSRegion)
	v.Set("planner.aws_profile", cfg.Planner.AWSProfile)
	v.Set("planner.plan_file", cfg.Planner.PlanFile)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("openai.base_url", cfg.OpenAI.BaseURL)
	v.Set("openai.api_key", cfg.OpenAI.APIKey)
	v.Set("state.db_path", cfg.State.DBPath)
	v.Set("log.path", cfg.Log.Path)
	v.Set("events.nats_url", cfg.Events.NATSURL)
	v.Set("events.nats_subject", cfg.Events.NATSSubject)
	v.Set("events.jsonl_path", cfg.Events.JSONLPath)
	v.Set("tools.catalog", cfg.Tools.Catalog)
	return v
}

// Keys lists every configuration key in dot notation, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// Value returns the setting for a dot-notation key as text.
func Value(cfg *Config, key string) (string, error) {
	key = strings.ToLower(key)
	if !isKey(key) {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return fmt.Sprint(toViper(cfg).Get(key)), nil
}

// SetKey writes one setting into the config file at path, creating the
// file if needed. Other settings in the file are kept. The file must still
// decode into a valid Config afterwards.
func SetKey(path, key, value string) error {
	key = strings.ToLower(key)
	if !isKey(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	file := viper.New()
	file.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	file.Set(key, value)

	check := viper.New()
	setDefaults(check)
	if err := check.MergeConfigMap(file.AllSettings()); err != nil {
		return fmt.Errorf("merging config: %w", err)
	}
	if _, err := decode(check); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return file.WriteConfig()
}

func isKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values. Every key needs a default so
// environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("session.ttl", d.Session.TTL.String())
	v.SetDefault("session.sweep_interval", d.Session.SweepInterval.String())
	v.SetDefault("session.history_size", d.Session.HistorySize)

	v.SetDefault("executor.tool_timeout", d.Executor.ToolTimeout.String())
	v.SetDefault("executor.max_concurrency", d.Executor.MaxConcurrency)

	v.SetDefault("confirmation.timeout", d.Confirmation.Timeout.String())

	v.SetDefault("planner.provider", d.Planner.Provider)
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.use_bedrock", false)
	v.SetDefault("planner.aws_region", "")
	v.SetDefault("planner.aws_profile", "")
	v.SetDefault("planner.plan_file", "")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.api_key", "")

	v.SetDefault("state.db_path", d.State.DBPath)
	v.SetDefault("log.path", "")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.nats_subject", d.Events.NATSSubject)
	v.SetDefault("events.jsonl_path", "")

	v.SetDefault("tools.catalog", d.Tools.Catalog)
}

// getUserConfigDir returns the XDG config directory for taskloom.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskloom")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskloom")
	}
	return filepath.Join(home, ".config", "taskloom")
}

// findProjectConfig searches for .taskloom.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskloom.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
			HistorySize:   10,
		},
		Executor: ExecutorConfig{
			ToolTimeout: 30 * time.Second,
		},
		Confirmation: ConfirmationConfig{
			Timeout: 300 * time.Second,
		},
		Planner: PlannerConfig{
			Provider: ProviderAnthropic,
		},
		State: StateConfig{
			DBPath: filepath.Join(".taskloom", "state.db"),
		},
		Events: EventsConfig{
			NATSSubject: "taskloom.events",
		},
		Tools: ToolsConfig{
			Catalog: filepath.Join(".taskloom", "tools.yaml"),
		},
	}
}
