package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, overlays ADAPIPE_ environment
// variables, and returns the result. A missing path is not an error: the
// documented defaults (Default) are returned with environment overrides
// applied, matching the teacher's file-optional bootstrap.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	LoadFromEnv(&cfg)
	return cfg, nil
}
