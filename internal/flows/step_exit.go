package flows

import (
	"context"
	"fmt"

	"github.com/ternarybob/flowd/internal/models"
)

// exitStep ends the flow deliberately with a message
type exitStep struct {
	flow    *Flow
	def     *models.StepDefinition
	message string
}

func newExitStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "exit")
	if err != nil {
		return nil, err
	}
	if _, ok := section["message"]; !ok {
		return nil, fmt.Errorf("step %s: exit message is required", def.Name)
	}
	return &exitStep{flow: f, def: def, message: optionalString(section, "message", "")}, nil
}

func (s *exitStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("message", s.message).
		Msg("Exiting flow")
	return nil, &FlowExitError{Message: fmt.Sprintf("Flow exited with message: %s", s.message)}
}
