package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskbeacon/taskbeacon/internal/agent"
)

// agentsFile is the on-disk shape of agents.yaml.
type agentsFile struct {
	Agents []agentEntry `yaml:"agents"`
}

// agentEntry mirrors agent.Config with a human-readable timeout.
type agentEntry struct {
	Role           agent.Role     `yaml:"role"`
	Provider       agent.Provider `yaml:"provider"`
	Model          string         `yaml:"model"`
	Temperature    *float64       `yaml:"temperature"`
	MaxTokens      int            `yaml:"max_tokens"`
	Timeout        string         `yaml:"timeout"`
	SupportsVision bool           `yaml:"supports_vision"`
	SystemPrompt   string         `yaml:"system_prompt"`
}

// LoadAgentConfigs loads agent configurations from a YAML file. Roles
// absent from the file keep their built-in configuration, so a file
// can override a single agent's model or temperature.
func LoadAgentConfigs(path string) ([]agent.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}

	overrides := make(map[agent.Role]agentEntry, len(file.Agents))
	for _, entry := range file.Agents {
		if !entry.Role.Valid() {
			return nil, fmt.Errorf("agents file %s: unknown role %q", path, entry.Role)
		}
		if _, dup := overrides[entry.Role]; dup {
			return nil, fmt.Errorf("agents file %s: duplicate role %q", path, entry.Role)
		}
		overrides[entry.Role] = entry
	}

	configs := agent.DefaultConfigs()
	for i, cfg := range configs {
		entry, ok := overrides[cfg.Role]
		if !ok {
			continue
		}
		merged, err := applyEntry(cfg, entry)
		if err != nil {
			return nil, fmt.Errorf("agents file %s: %w", path, err)
		}
		configs[i] = merged
	}
	return configs, nil
}

// applyEntry overlays the file entry's set fields on the built-in
// configuration. The built-in system prompt survives unless replaced.
func applyEntry(base agent.Config, entry agentEntry) (agent.Config, error) {
	merged := base
	if entry.Provider != "" {
		merged.Provider = entry.Provider
	}
	if entry.Model != "" {
		merged.Model = entry.Model
	}
	if entry.Temperature != nil {
		merged.Temperature = *entry.Temperature
	}
	if entry.MaxTokens != 0 {
		merged.MaxTokens = entry.MaxTokens
	}
	if entry.Timeout != "" {
		d, err := time.ParseDuration(entry.Timeout)
		if err != nil {
			return agent.Config{}, fmt.Errorf("role %s: bad timeout %q: %v", entry.Role, entry.Timeout, err)
		}
		merged.Timeout = d
	}
	if entry.SystemPrompt != "" {
		merged.SystemPrompt = entry.SystemPrompt
	}
	if entry.SupportsVision {
		merged.SupportsVision = true
	}
	return merged, nil
}

// BuildRegistry loads the agent registry from an optional agents file.
func BuildRegistry(agentsFilePath string) (*agent.Registry, error) {
	configs := agent.DefaultConfigs()
	if agentsFilePath != "" {
		loaded, err := LoadAgentConfigs(agentsFilePath)
		if err != nil {
			return nil, err
		}
		configs = loaded
	}
	return agent.NewRegistry(configs)
}
