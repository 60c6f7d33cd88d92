package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/flowd/internal/models"
)

// sleepStep pauses the flow for a number of seconds. It wakes early when the
// run is cancelled.
type sleepStep struct {
	flow    *Flow
	def     *models.StepDefinition
	seconds float64
}

func newSleepStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "sleep")
	if err != nil {
		return nil, err
	}
	raw, ok := section["seconds"]
	if !ok {
		return nil, fmt.Errorf("step %s: sleep seconds is required", def.Name)
	}
	seconds, ok := numberField(raw)
	if !ok {
		return nil, fmt.Errorf("step %s: sleep seconds must be a number", def.Name)
	}
	return &sleepStep{flow: f, def: def, seconds: seconds}, nil
}

func (s *sleepStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Dur("duration", time.Duration(s.seconds*float64(time.Second))).
		Msg("Sleeping")

	timer := time.NewTimer(time.Duration(s.seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return &StepResult{Value: map[string]interface{}{}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
