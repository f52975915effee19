package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// providerKeyEnv maps planner providers to the environment variable holding their key.
var providerKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
}

// GetAPIKey returns the API key for the configured planner provider.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	provider := ProviderAnthropic
	if cfg != nil && cfg.Planner.Provider != "" {
		provider = cfg.Planner.Provider
	}

	env, ok := providerKeyEnv[provider]
	if !ok {
		// The file planner needs no key.
		return "", ErrNoAPIKey
	}
	if key := os.Getenv(env); key != "" {
		return key, nil
	}

	if key := configuredKey(cfg, provider); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

func configuredKey(cfg *Config, provider string) string {
	if cfg == nil {
		return ""
	}
	raw := cfg.Anthropic.APIKey
	if provider == ProviderOpenAI {
		raw = cfg.OpenAI.APIKey
	}
	// Expand any remaining env var references
	key := os.ExpandEnv(raw)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey performs basic validation on an Anthropic API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	// Anthropic API keys start with "sk-ant-"
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the planner's API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	provider := ProviderAnthropic
	if cfg != nil && cfg.Planner.Provider != "" {
		provider = cfg.Planner.Provider
	}
	env, ok := providerKeyEnv[provider]
	if !ok {
		return KeySourceNone
	}
	if os.Getenv(env) != "" {
		return KeySourceEnv
	}
	if configuredKey(cfg, provider) != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
