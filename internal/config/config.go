// Package config loads workspace-local engine defaults from an optional YAML
// file. Command line flags override anything set here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine defaults for a workspace.
type Config struct {
	Drift struct {
		UseLLM              *bool         `yaml:"use_llm"`
		Model               string        `yaml:"model"`
		LLMTimeout          time.Duration `yaml:"llm_timeout"`
		FallbackOnError     *bool         `yaml:"fallback_on_error"`
		MinConfidence       float64       `yaml:"min_confidence"`
		MaxCandidates       int           `yaml:"max_candidates"`
		WindowDays          int           `yaml:"window_days"`
		OlderWindowDays     int           `yaml:"older_window_days"`
		SimilarityThreshold float64       `yaml:"similarity_threshold"`
	} `yaml:"drift"`

	Score struct {
		WindowDays   int     `yaml:"window_days"`
		HalfLifeDays int     `yaml:"half_life_days"`
		Alpha        float64 `yaml:"alpha"`
		MaxUpdates   int     `yaml:"max_updates"`
	} `yaml:"score"`

	Promote struct {
		WindowDays    int     `yaml:"window_days"`
		MinImportance float64 `yaml:"min_importance"`
		MinRecurrence int     `yaml:"min_recurrence"`
		MaxGroups     int     `yaml:"max_groups"`
	} `yaml:"promote"`
}

// FileName is the workspace-relative config file location.
const FileName = "memgov.yaml"

// Load reads the workspace config. A missing file yields the zero config and
// no error; a malformed file is an error so typos do not silently vanish.
func Load(configDir string) (Config, error) {
	var cfg Config
	path := filepath.Join(configDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// UseLLM resolves the drift LLM toggle, defaulting to enabled.
func (c Config) UseLLM() bool {
	if c.Drift.UseLLM == nil {
		return true
	}
	return *c.Drift.UseLLM
}

// FallbackOnError resolves the drift fallback toggle, defaulting to enabled.
func (c Config) FallbackOnError() bool {
	if c.Drift.FallbackOnError == nil {
		return true
	}
	return *c.Drift.FallbackOnError
}
