package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluxorch/engine/pkg/models"
)

// agentsFile is the on-disk shape of an agent roster file: a YAML document
// with one "agents" list, each entry matching models.AgentConfig's JSON
// field names (the roster is authored in YAML but decoded through the
// domain type's existing JSON tags rather than duplicating them as yaml
// tags).
type agentsFile struct {
	Agents []map[string]any `yaml:"agents"`
}

// LoadAgents reads an agent roster file and decodes it into AgentConfigs.
func LoadAgents(path string) ([]models.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	var raw agentsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	out := make([]models.AgentConfig, 0, len(raw.Agents))
	for i, entry := range raw.Agents {
		b, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		var cfg models.AgentConfig
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		if cfg.ID == "" {
			return nil, fmt.Errorf("agents[%d]: id is required", i)
		}
		out = append(out, cfg)
	}
	return out, nil
}
