package flows

import (
	"context"
	"fmt"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// setFactStep stores a templated value on the blackboard
type setFactStep struct {
	flow  *Flow
	def   *models.StepDefinition
	value interface{}
}

func newSetFactStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	value, ok := def.Config["value"]
	if !ok {
		return nil, fmt.Errorf("step %s: value is required", def.Name)
	}
	return &setFactStep{flow: f, def: def, value: value}, nil
}

func (s *setFactStep) run(ctx context.Context) (*StepResult, error) {
	rendered, err := transform.RenderValue(s.value, s.flow.data)
	if err != nil {
		return nil, err
	}
	return &StepResult{Value: rendered}, nil
}
