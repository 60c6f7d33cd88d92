package flows

import (
	"context"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// jqStep filters blackboard data through a jq expression
type jqStep struct {
	flow       *Flow
	def        *models.StepDefinition
	expression string
	data       interface{}
}

func newJqStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "jq")
	if err != nil {
		return nil, err
	}
	expression, err := requiredString(def, section, "expression")
	if err != nil {
		return nil, err
	}
	dataKey, err := requiredString(def, section, "data_key")
	if err != nil {
		return nil, err
	}

	data, ok := f.data.Get(dataKey)
	if !ok {
		data = map[string]interface{}{}
	}
	return &jqStep{flow: f, def: def, expression: expression, data: data}, nil
}

func (s *jqStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("expression", s.expression).
		Msg("Applying jq filter")

	value, err := transform.ApplyJqFilter(s.data, s.expression)
	if err != nil {
		return nil, err
	}
	return &StepResult{Value: value}, nil
}
