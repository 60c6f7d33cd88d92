package flows

import (
	"context"

	"github.com/ternarybob/flowd/internal/models"
)

// flowStep runs another flow synchronously with a payload taken from the
// blackboard. The child's final blackboard becomes this step's value; the
// child's terminal status does not end the parent.
type flowStep struct {
	flow    *Flow
	def     *models.StepDefinition
	path    string
	payload interface{}
}

func newFlowStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "flow")
	if err != nil {
		return nil, err
	}
	path, err := requiredString(def, section, "path")
	if err != nil {
		return nil, err
	}
	dataKey, err := requiredString(def, section, "data_key")
	if err != nil {
		return nil, err
	}

	payload, _ := f.data.Get(dataKey)
	return &flowStep{flow: f, def: def, path: path, payload: payload}, nil
}

func (s *flowStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("child", s.path).
		Msg("Running child flow")

	child, err := NewFlow(s.flow.env, s.path, s.payload, 0, "")
	if err != nil {
		return nil, err
	}
	data, _ := child.Process(ctx)
	return &StepResult{Value: map[string]interface{}(data)}, nil
}
