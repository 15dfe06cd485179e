// Package scenario defines the content that parameterizes a dialogue: persona
// instructions, the objective-reporting tool, the seed message, the closing
// feedback and the model call parameters.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/ashureev/scenario-coach/internal/llm"
)

// DefaultToolResult is the tool result text used when a scenario sets none.
const DefaultToolResult = "Progress updated successfully"

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Objective is one named boolean milestone.
type Objective struct {
	Key         string `yaml:"key" json:"key"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
}

// ToolSpec names the objective-reporting tool.
type ToolSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Result      string `yaml:"result"`
}

// Scenario is one training dialogue configuration.
type Scenario struct {
	ID           string      `yaml:"id"`
	Title        string      `yaml:"title"`
	Description  string      `yaml:"description"`
	Model        string      `yaml:"model"`
	MaxTokens    int         `yaml:"max_tokens"`
	Temperature  *float64    `yaml:"temperature"`
	SystemPrompt string      `yaml:"system_prompt"`
	SeedMessage  string      `yaml:"seed_message"`
	Tool         ToolSpec    `yaml:"tool"`
	Objectives   []Objective `yaml:"objectives"`
	Feedback     string      `yaml:"feedback"`
}

// ObjectiveKeys returns the objective names in declaration order.
func (s *Scenario) ObjectiveKeys() []string {
	keys := make([]string, len(s.Objectives))
	for i, o := range s.Objectives {
		keys[i] = o.Key
	}
	return keys
}

// ToolResultText returns the fixed text sent back for each progress report.
func (s *Scenario) ToolResultText() string {
	if s.Tool.Result == "" {
		return DefaultToolResult
	}
	return s.Tool.Result
}

// ToolDefinition builds the objective-reporting tool definition. Every objective is an
// optional boolean property.
func (s *Scenario) ToolDefinition() llm.Tool {
	type property struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
	}
	props := make(map[string]property, len(s.Objectives))
	for _, o := range s.Objectives {
		props[o.Key] = property{Type: "boolean", Description: o.Description}
	}
	schema, _ := json.Marshal(struct {
		Type       string              `json:"type"`
		Properties map[string]property `json:"properties"`
		Required   []string            `json:"required"`
	}{
		Type:       "object",
		Properties: props,
		Required:   []string{},
	})
	return llm.Tool{
		Name:        s.Tool.Name,
		Description: s.Tool.Description,
		InputSchema: schema,
	}
}

// Validate checks that the scenario can drive a dialogue.
func (s *Scenario) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("id cannot be empty"))
	}
	if s.SystemPrompt == "" {
		errs = append(errs, errors.New("system_prompt cannot be empty"))
	}
	if s.SeedMessage == "" {
		errs = append(errs, errors.New("seed_message cannot be empty"))
	}
	if s.Feedback == "" {
		errs = append(errs, errors.New("feedback cannot be empty"))
	}
	if s.Tool.Name == "" {
		errs = append(errs, errors.New("tool.name cannot be empty"))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must be >= 0"))
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 1) {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0, 1]", *s.Temperature))
	}
	if len(s.Objectives) == 0 {
		errs = append(errs, errors.New("at least one objective is required"))
	}
	seen := make(map[string]bool, len(s.Objectives))
	for _, o := range s.Objectives {
		if !keyPattern.MatchString(o.Key) {
			errs = append(errs, fmt.Errorf("objective key %q is not a valid identifier", o.Key))
		}
		if seen[o.Key] {
			errs = append(errs, fmt.Errorf("duplicate objective key %q", o.Key))
		}
		seen[o.Key] = true
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario %q: %w", s.ID, err)
	}
	return nil
}
