// Package scenario loads the per-language scenario configuration for CoachPipe.
//
// A scenario file carries the model settings, the scenario text, the system prompt
// for every generation capability, the decision conditions and the fixed messages
// shown to the parent. Files are YAML and are loaded once at startup.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Models holds model names and sampling temperatures for the two speakers.
type Models struct {
	Child                  string  `yaml:"child"`
	ChildTemperature       float64 `yaml:"child_temperature"`
	Facilitator            string  `yaml:"facilitator"`
	FacilitatorTemperature float64 `yaml:"facilitator_temperature"`
}

// Objectives accepts either a single string or a list of strings.
type Objectives []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *Objectives) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*o = nil
		} else {
			*o = Objectives{s}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*o = list
		return nil
	default:
		return fmt.Errorf("objectives must be a string or a list, got yaml kind %d", value.Kind)
	}
}

// String renders objectives for prompt substitution: a single objective as-is,
// several as a dashed list.
func (o Objectives) String() string {
	if len(o) == 1 {
		return o[0]
	}
	lines := make([]string, len(o))
	for i, obj := range o {
		lines[i] = "- " + obj
	}
	return strings.Join(lines, "\n")
}

// Scenario describes the role-play situation.
type Scenario struct {
	Name                  string     `yaml:"name"`
	Description           string     `yaml:"description"`
	Objectives            Objectives `yaml:"objectives"`
	ConversationInitiator string     `yaml:"conversation_initiator"`
}

// SystemPrompts holds one system prompt template per generation capability.
type SystemPrompts struct {
	Child                            string `yaml:"child"`
	FacilitatorDecision              string `yaml:"facilitator_decision"`
	FacilitatorPositiveReinforcement string `yaml:"facilitator_positive_reinforcement"`
	FacilitatorHelp                  string `yaml:"facilitator_help"`
	FacilitatorEndCoaching           string `yaml:"facilitator_end_coaching"`
	FacilitatorSummary               string `yaml:"facilitator_summary"`
}

// Conditions describes, per decision code, when the classifier should pick it.
type Conditions struct {
	EndConversation                          string `yaml:"end_conversation"`
	ChildOnlyNeutral                         string `yaml:"child_only_neutral"`
	ChildOnlyPositive                        string `yaml:"child_only_positive"`
	ChildAndFacilitatorPositiveReinforcement string `yaml:"child_and_facilitator_positive_reinforcement"`
	ChildAndFacilitatorHelp                  string `yaml:"child_and_facilitator_help"`
	FacilitatorOnlyHelp                      string `yaml:"facilitator_only_help"`
}

// StaticMessages holds fixed, localized text.
type StaticMessages struct {
	RetryMessage     string `yaml:"retry_message"`
	Facilitator      string `yaml:"facilitator"`
	Child            string `yaml:"child"`
	Summary          string `yaml:"summary"`
	Scenario         string `yaml:"scenario"`
	PositiveQuestion string `yaml:"positive_question"`
	NegativeQuestion string `yaml:"negative_question"`
}

// Config is one language's scenario configuration. It is immutable after Load.
type Config struct {
	Language       string         `yaml:"-"`
	Models         Models         `yaml:"models"`
	Scenario       Scenario       `yaml:"scenario"`
	SystemPrompts  SystemPrompts  `yaml:"system_prompts"`
	Conditions     Conditions     `yaml:"conditions"`
	StaticMessages StaticMessages `yaml:"static_messages"`
}

// ValidationError lists every missing or empty required field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n" + strings.Join(e.Problems, "\n")
}

// ErrEmptyConfig is returned for a file with no YAML document.
var ErrEmptyConfig = errors.New("config file is empty")

// Parse decodes and validates a scenario configuration.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyConfig
		}
		return nil, fmt.Errorf("invalid YAML format: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and validates a single scenario file.
func LoadFile(path string) (*Config, error) {
	slog.Debug("scenario.LoadFile: reading config", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		slog.Error("scenario.LoadFile: invalid config", "path", path, "error", err)
		return nil, fmt.Errorf("error loading config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every required field is present and non-empty.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"models.child", c.Models.Child},
		{"models.facilitator", c.Models.Facilitator},
		{"scenario.name", c.Scenario.Name},
		{"scenario.description", c.Scenario.Description},
		{"system_prompts.child", c.SystemPrompts.Child},
		{"system_prompts.facilitator_decision", c.SystemPrompts.FacilitatorDecision},
		{"system_prompts.facilitator_positive_reinforcement", c.SystemPrompts.FacilitatorPositiveReinforcement},
		{"system_prompts.facilitator_help", c.SystemPrompts.FacilitatorHelp},
		{"system_prompts.facilitator_end_coaching", c.SystemPrompts.FacilitatorEndCoaching},
		{"system_prompts.facilitator_summary", c.SystemPrompts.FacilitatorSummary},
		{"static_messages.retry_message", c.StaticMessages.RetryMessage},
		{"static_messages.facilitator", c.StaticMessages.Facilitator},
		{"static_messages.child", c.StaticMessages.Child},
		{"static_messages.summary", c.StaticMessages.Summary},
		{"static_messages.scenario", c.StaticMessages.Scenario},
		{"static_messages.positive_question", c.StaticMessages.PositiveQuestion},
		{"static_messages.negative_question", c.StaticMessages.NegativeQuestion},
	}

	var problems []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, "Empty field: "+f.name)
		}
	}
	if len(c.Scenario.Objectives) == 0 {
		problems = append(problems, "Empty field: scenario.objectives")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// BaseVariables returns the prompt variables every capability shares.
func (c *Config) BaseVariables() map[string]string {
	return map[string]string{
		"scenario_description": c.Scenario.Description,
		"scenario_objectives":  c.Scenario.Objectives.String(),
		"end_conversation":     c.Conditions.EndConversation,
		"child_only_neutral":   c.Conditions.ChildOnlyNeutral,
		"child_only_positive":  c.Conditions.ChildOnlyPositive,
		"child_and_facilitator_positive_reinforcement": c.Conditions.ChildAndFacilitatorPositiveReinforcement,
		"child_and_facilitator_help":                   c.Conditions.ChildAndFacilitatorHelp,
		"facilitator_only_help":                        c.Conditions.FacilitatorOnlyHelp,
	}
}

// Intro renders the scenario introduction shown before the first turn.
func (c *Config) Intro() string {
	var b strings.Builder
	b.WriteString(c.Scenario.Name)
	b.WriteString("\n\n")
	b.WriteString(c.StaticMessages.Scenario)
	b.WriteString(": ")
	b.WriteString(c.Scenario.Description)
	if c.Scenario.ConversationInitiator != "" {
		b.WriteString("\n\n")
		b.WriteString(c.StaticMessages.Child)
		b.WriteString(": ")
		b.WriteString(c.Scenario.ConversationInitiator)
	}
	return b.String()
}
