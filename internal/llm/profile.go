package llm

import "time"

// Task selects a model profile
type Task string

const (
	TaskQueries      Task = "queries"
	TaskOrders       Task = "orders"
	TaskConversation Task = "conversation"
)

// DefaultModel is used when no model is configured
const DefaultModel = "phi3:mini"

// Profile is the sampling configuration for one task
type Profile struct {
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	TopP        float32       `yaml:"top_p"`
	TopK        int           `yaml:"top_k"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Profiles is the read-only task → profile table
type Profiles map[Task]Profile

// DefaultProfiles builds the stock table for model
func DefaultProfiles(model string) Profiles {
	if model == "" {
		model = DefaultModel
	}
	return Profiles{
		TaskQueries: {
			Model:       model,
			Temperature: 0.2,
			TopP:        0.9,
			TopK:        40,
			Timeout:     8 * time.Second,
		},
		TaskOrders: {
			Model:       model,
			Temperature: 0.3,
			TopP:        0.9,
			TopK:        40,
			Timeout:     10 * time.Second,
		},
		TaskConversation: {
			Model:       model,
			Temperature: 0.5,
			TopP:        0.95,
			TopK:        50,
			Timeout:     8 * time.Second,
		},
	}
}

// Resolve returns the profile for task, falling back to queries for unknown tasks
func (p Profiles) Resolve(task Task) (Task, Profile) {
	if prof, ok := p[task]; ok {
		return task, prof
	}
	return TaskQueries, p[TaskQueries]
}

// Overrides replaces individual profile values for one call. Nil/zero fields keep the profile value.
type Overrides struct {
	Temperature *float32
	TopP        *float32
	TopK        *int
	Timeout     time.Duration
}

// WithTemperature is shorthand for an override carrying only a temperature
func WithTemperature(t float32) Overrides {
	return Overrides{Temperature: &t}
}

// Apply merges o over p
func (o Overrides) Apply(p Profile) Profile {
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.TopK != nil {
		p.TopK = *o.TopK
	}
	if o.Timeout > 0 {
		p.Timeout = o.Timeout
	}
	return p
}

// Merge overlays non-zero fields of patch onto p
func (p Profile) Merge(patch Profile) Profile {
	if patch.Model != "" {
		p.Model = patch.Model
	}
	if patch.Temperature > 0 {
		p.Temperature = patch.Temperature
	}
	if patch.TopP > 0 {
		p.TopP = patch.TopP
	}
	if patch.TopK > 0 {
		p.TopK = patch.TopK
	}
	if patch.Timeout > 0 {
		p.Timeout = patch.Timeout
	}
	return p
}
