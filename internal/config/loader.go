package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".mcpdock"
	ConfigFileName = "mcpdock.json"
)

// Load loads configuration from file, environment, and defaults. Lookup
// order for the file: the --config flag, then the working directory, then
// the data directory; when nothing is found a default file is written so
// the next edit has somewhere to go.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	setupViper()
	applyEnvOverrides(cfg) // so the default file lands in MCPDOCK_DATA

	configPath := viper.GetString("config")
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else {
		found, err := findAndLoadConfigFile(cfg)
		if err != nil {
			return nil, err
		}
		if !found {
			if err := ensureDataDir(cfg); err != nil {
				return nil, err
			}
			defaultPath := filepath.Join(cfg.DataDir, ConfigFileName)
			if err := SaveConfig(cfg, defaultPath); err != nil {
				return nil, fmt.Errorf("failed to create default config file: %w", err)
			}
		}
	}

	// Environment and flag overrides through viper; the explicit env
	// overrides run last so they beat file contents.
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file, skipping viper.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViper configures viper with environment variable handling
func setupViper() {
	viper.SetEnvPrefix("MCPDOCK")
	viper.AutomaticEnv()

	// Replace - and . with _ for environment variables, so
	// observability.metrics-enabled reads MCPDOCK_OBSERVABILITY_METRICS_ENABLED.
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault("listen", defaultListen)
	viper.SetDefault("discovery-timeout", defaultDiscoveryTimeout)
	viper.SetDefault("search-limit", defaultSearchLimit)
	viper.SetDefault("enable-search", true)
	viper.SetDefault("config", "")
}

// findAndLoadConfigFile tries to find config file in common locations
func findAndLoadConfigFile(cfg *Config) (bool, error) {
	locations := []string{
		ConfigFileName,
		filepath.Join(".", ConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := loadConfigFile(location, cfg); err != nil {
				return true, fmt.Errorf("failed to load config file %s: %w", location, err)
			}
			return true, nil
		}
	}
	return false, nil
}

// loadConfigFile loads configuration from a JSON file
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file (including /dev/null) is treated as no configuration,
	// which lets --config=/dev/null mean "defaults only".
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveConfig saves configuration to a file
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file in the data directory
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	return filepath.Join(dataDir, ConfigFileName)
}

// ensureDataDir fills in the default data directory and creates it.
func ensureDataDir(cfg *Config) error {
	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	return nil
}

// applyEnvOverrides applies the handful of overrides that must work even
// when viper never saw a matching flag.
func applyEnvOverrides(cfg *Config) {
	if value := os.Getenv("MCPDOCK_LISTEN"); value != "" {
		cfg.Listen = value
	}
	if value := os.Getenv("MCPDOCK_DATA"); value != "" {
		cfg.DataDir = value
	}
	if value := os.Getenv("MCPDOCK_API_KEY"); value != "" {
		cfg.APIKey = value
	}
}
