package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kardex_assistant/internal/llm"
)

// YAMLConfig represents the structure of profiles.yaml
//
//	profiles:
//	  orders:
//	    model: llama3.1:8b
//	    temperature: 0.25
//	    timeout: 12s
type YAMLConfig struct {
	Profiles map[string]llm.Profile `yaml:"profiles"`
}

// LoadProfileOverrides loads model profile overrides from a YAML file
func LoadProfileOverrides(filepath string) (*YAMLConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config YAMLConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	for task := range config.Profiles {
		switch llm.Task(task) {
		case llm.TaskQueries, llm.TaskOrders, llm.TaskConversation:
		default:
			return nil, fmt.Errorf("unknown profile %q in %s", task, filepath)
		}
	}
	return &config, nil
}

// ApplyProfileOverrides merges non-zero override fields into base and returns a new table
func ApplyProfileOverrides(base llm.Profiles, overrides *YAMLConfig) llm.Profiles {
	out := make(llm.Profiles, len(base))
	for task, p := range base {
		out[task] = p
	}
	if overrides == nil {
		return out
	}
	for task, patch := range overrides.Profiles {
		out[llm.Task(task)] = out[llm.Task(task)].Merge(patch)
	}
	return out
}
