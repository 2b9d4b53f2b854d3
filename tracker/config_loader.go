package tracker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig
const (
	DefaultMaxIterations = 100
	DefaultFilterWindow  = 10
	DefaultHTTPPort      = 8080
)

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return &config, nil
}

// Validate checks the required fields
func (c *Config) Validate() error {
	if len(c.Tools) == 0 {
		return fmt.Errorf("at least one tool must be defined")
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, tc := range c.Tools {
		if tc.ID == "" {
			return fmt.Errorf("tools[%d].id is required", i)
		}
		if tc.Model == "" {
			return fmt.Errorf("tools[%d].model is required for %s", i, tc.ID)
		}
		if seen[tc.ID] {
			return fmt.Errorf("tools[%d].id %q is duplicated", i, tc.ID)
		}
		seen[tc.ID] = true
	}

	if _, err := c.Filter.GetPolicy(); err != nil {
		return fmt.Errorf("filter.policy: %w", err)
	}
	if c.Filter.Window < 0 {
		return fmt.Errorf("filter.window must not be negative")
	}
	if c.ICP.MaxIterations < 0 {
		return fmt.Errorf("icp.maxIterations must not be negative")
	}
	if q := c.Quality; q != nil && !(q.Excellent <= q.Good && q.Good <= q.Fair) {
		return fmt.Errorf("quality thresholds must be increasing")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.ICP.MaxIterations == 0 {
		c.ICP.MaxIterations = DefaultMaxIterations
	}
	if c.Filter.Window == 0 {
		c.Filter.Window = DefaultFilterWindow
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
