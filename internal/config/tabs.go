package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TabEntry is a page to open at startup.
type TabEntry struct {
	URL string `yaml:"url"`
	// Code seeds the editor of the tab. Empty keeps the default.
	Code string `yaml:"code,omitempty"`
}

// TabsConfig is the top-level YAML configuration for startup tabs.
type TabsConfig struct {
	Tabs []TabEntry `yaml:"tabs"`
}

// LoadTabs reads and validates a tabs YAML file. A missing file returns an
// error wrapping os.ErrNotExist; callers skip startup tabs in that case.
func LoadTabs(path string) (*TabsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tabs config: %w", err)
	}
	var cfg TabsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tabs config: %w", err)
	}
	for i, t := range cfg.Tabs {
		if t.URL == "" {
			return nil, fmt.Errorf("tabs config: tabs[%d] missing url", i)
		}
	}
	return &cfg, nil
}
