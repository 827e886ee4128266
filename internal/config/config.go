// Package config handles CarScout configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/carscout/config.yaml, /etc/carscout/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "carscout", "config.yaml"))
	}

	paths = append(paths, "/etc/carscout/config.yaml")
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

// Config holds all CarScout configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	Loop        LoopConfig        `yaml:"loop"`
	VehicleData VehicleDataConfig `yaml:"vehicle_data"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // text (default) or json
	DebugEmit   bool              `yaml:"debug_emit"`
}

// ListenConfig defines the chat server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines the model transport settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LoopConfig tunes the orchestrator turn loop.
type LoopConfig struct {
	// MaxTurns is the hard cap on model calls per exchange. The loop
	// always terminates within this many turns regardless of model
	// behavior.
	MaxTurns int `yaml:"max_turns"`
	// HistoryWindow is the number of recent transcript messages sent
	// to the model.
	HistoryWindow int `yaml:"history_window"`
	// ToolTimeoutSec bounds a single tool execution. A tool that runs
	// past it is reported to the model as a failure.
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
	// ToolWorkers limits concurrent tool executions within one turn.
	ToolWorkers int `yaml:"tool_workers"`
}

// VehicleDataConfig defines the external vehicle-data API endpoints.
// Base URLs are overridable for testing against local stubs.
type VehicleDataConfig struct {
	VPICBaseURL        string       `yaml:"vpic_base_url"`
	SafetyBaseURL      string       `yaml:"safety_base_url"`
	FuelEconomyBaseURL string       `yaml:"fuel_economy_base_url"`
	Google             GoogleConfig `yaml:"google"`
}

// GoogleConfig holds Custom Search credentials for the price estimator.
// When empty, the price tool reports itself unavailable rather than
// failing at startup.
type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
	CX     string `yaml:"cx"`
}

// Defaults applied by Load for zero-valued fields.
const (
	DefaultMaxTurns       = 4
	DefaultHistoryWindow  = 20
	DefaultToolTimeoutSec = 30
	DefaultToolWorkers    = 10
)

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		DataDir: ".",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Loop.MaxTurns <= 0 {
		c.Loop.MaxTurns = DefaultMaxTurns
	}
	if c.Loop.HistoryWindow <= 0 {
		c.Loop.HistoryWindow = DefaultHistoryWindow
	}
	if c.Loop.ToolTimeoutSec <= 0 {
		c.Loop.ToolTimeoutSec = DefaultToolTimeoutSec
	}
	if c.Loop.ToolWorkers <= 0 {
		c.Loop.ToolWorkers = DefaultToolWorkers
	}
	if c.VehicleData.VPICBaseURL == "" {
		c.VehicleData.VPICBaseURL = "https://vpic.nhtsa.dot.gov/api"
	}
	if c.VehicleData.SafetyBaseURL == "" {
		c.VehicleData.SafetyBaseURL = "https://api.nhtsa.gov"
	}
	if c.VehicleData.FuelEconomyBaseURL == "" {
		c.VehicleData.FuelEconomyBaseURL = "https://www.fueleconomy.gov/ws/rest"
	}
}
