package flows

import (
	"context"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// gotoStep redirects the interpreter to a named step (or one of the
// __exit/__end__/__start__ sentinels). The target is templated against the
// blackboard, so loops can pick their continuation dynamically.
type gotoStep struct {
	flow     *Flow
	def      *models.StepDefinition
	stepName string
}

func newGotoStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "goto")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(def, section, "step_name")
	if err != nil {
		return nil, err
	}
	stepName, err := transform.RenderString(raw, f.data)
	if err != nil {
		return nil, err
	}
	return &gotoStep{flow: f, def: def, stepName: stepName}, nil
}

func (s *gotoStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("target", s.stepName).
		Msg("Goto")
	return &StepResult{Goto: s.stepName}, nil
}
