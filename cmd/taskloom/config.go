package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify taskloom configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

Configuration is stored at ~/.config/taskloom/config.yaml
Project-specific overrides can be placed in .taskloom.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 2 {
			return setConfigKey(args[0], args[1])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if len(args) == 1 {
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		}
		return displayAllConfig(os.Stdout, cfg)
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, cfg *config.Config) error {
	for _, key := range config.Keys() {
		value, err := getConfigValue(cfg, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", key, value)
	}
	fmt.Fprintf(w, "\nAPI key source: %s\n", config.GetAPIKeySource(cfg))
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
// API keys are masked.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	value, err := config.Value(cfg, key)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(strings.ToLower(key), "api_key") {
		return config.MaskAPIKey(value), nil
	}
	if value == "" {
		return "(not set)", nil
	}
	return value, nil
}

// setConfigKey sets a configuration value in the user config file.
func setConfigKey(key, value string) error {
	path := flagConfig
	if path == "" {
		path = config.GetUserConfigPath()
	}
	if err := config.SetKey(path, key, value); err != nil {
		return err
	}
	shown := value
	if strings.HasSuffix(strings.ToLower(key), "api_key") {
		shown = config.MaskAPIKey(value)
	}
	fmt.Printf("Set %s = %s in %s\n", strings.ToLower(key), shown, path)
	return nil
}
