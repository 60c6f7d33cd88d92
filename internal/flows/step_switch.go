package flows

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/flowd/internal/models"
)

type switchCase struct {
	pattern string
	step    models.StepDefinition
}

// switchStep matches a blackboard value against ordered regex cases and runs
// the first matching case's inner step through the normal step machinery.
type switchStep struct {
	flow    *Flow
	def     *models.StepDefinition
	dataKey string
	cases   []switchCase
}

func newSwitchStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "switch")
	if err != nil {
		return nil, err
	}
	dataKey, err := requiredString(def, section, "data_key")
	if err != nil {
		return nil, err
	}
	rawCases, ok := section["cases"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("step %s: switch cases are required", def.Name)
	}

	cases := make([]switchCase, 0, len(rawCases))
	for i, raw := range rawCases {
		rule, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("step %s: case %d must be a mapping", def.Name, i)
		}
		pattern, ok := rule["when"].(string)
		if !ok {
			return nil, fmt.Errorf("step %s: case %d needs a when pattern", def.Name, i)
		}
		innerDef, err := decodeStepDefinition(rule["step"])
		if err != nil {
			return nil, fmt.Errorf("step %s: case %d: %v", def.Name, i, err)
		}
		cases = append(cases, switchCase{pattern: pattern, step: innerDef})
	}

	return &switchStep{flow: f, def: def, dataKey: dataKey, cases: cases}, nil
}

// decodeStepDefinition converts the raw inline case object into a step
// definition by round-tripping it through YAML.
func decodeStepDefinition(raw interface{}) (models.StepDefinition, error) {
	var def models.StepDefinition
	if raw == nil {
		return def, fmt.Errorf("case step is required")
	}
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return def, err
	}
	if err := yaml.Unmarshal(encoded, &def); err != nil {
		return def, err
	}
	if def.Name == "" || def.Type == "" {
		return def, fmt.Errorf("case step needs a name and type")
	}
	return def, nil
}

func (s *switchStep) run(ctx context.Context) (*StepResult, error) {
	value, _ := s.flow.data.Get(s.dataKey)
	text := fmt.Sprintf("%v", value)

	for _, rule := range s.cases {
		re, err := compileAnchored(rule.pattern)
		if err != nil {
			return nil, err
		}
		if !re.MatchString(text) {
			continue
		}

		s.flow.env.logger().Info().
			Str("flow", s.flow.def.Name).
			Str("step", s.def.Name).
			Str("case", rule.pattern).
			Str("inner", rule.step.Name).
			Msg("Switch case matched")

		innerDef := rule.step
		runner, err := newStep(s.flow, &innerDef)
		if err != nil {
			return nil, err
		}
		// The inner step patches the blackboard under its own result key
		// and may itself redirect the flow.
		return s.flow.runStep(ctx, &innerDef, runner)
	}

	return nil, nil
}
