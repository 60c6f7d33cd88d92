package models

// FlowDefinition is an immutable flow document loaded from a YAML file.
// Path is the file's own relative path under the flows directory, stored for
// reference (it is not part of the YAML document).
type FlowDefinition struct {
	Name  string           `yaml:"name"`
	Steps []StepDefinition `yaml:"steps"`
	Path  string           `yaml:"-"`
}

// StepDefinition is one node in a flow's step sequence. The engine-level
// keys are typed; the type-specific configuration block (file:, rest:, jq:,
// value:, ...) stays in Config and is decoded by the step constructor.
type StepDefinition struct {
	Name         string                 `yaml:"name"`
	Type         string                 `yaml:"type"`
	When         []string               `yaml:"when,omitempty"`
	ResultKey    string                 `yaml:"result_key,omitempty"`
	JqExpression string                 `yaml:"jq_expression,omitempty"`
	IgnoreErrors []string               `yaml:"ignore_errors,omitempty"`
	OnErrorGoto  string                 `yaml:"on_error_goto,omitempty"`
	Config       map[string]interface{} `yaml:",inline"`
}

// EffectiveResultKey returns where the step's output lands on the blackboard
func (s *StepDefinition) EffectiveResultKey() string {
	if s.ResultKey != "" {
		return s.ResultKey
	}
	return s.Name
}

// ConfigSection returns the nested configuration object for the given key,
// e.g. the "rest" block of a rest step.
func (s *StepDefinition) ConfigSection(key string) (map[string]interface{}, bool) {
	raw, ok := s.Config[key]
	if !ok {
		return nil, false
	}
	section, ok := raw.(map[string]interface{})
	return section, ok
}
